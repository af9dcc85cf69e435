// Package errors renders HTTP error envelopes and carries the status and
// code of errors raised by the HTTP surface.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTP envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AppError is an error with an HTTP status and envelope code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NotFound(message string, err error) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message, Err: err}
}

func Validation(message string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Err: err}
}

func Conflict(message string, err error) *AppError {
	return &AppError{Status: http.StatusConflict, Code: CodeConflict, Message: message, Err: err}
}

func ServiceUnavailable(message string, details map[string]any) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// WrapInternal wraps err as a 500 error. The message is what clients see;
// err stays in logs.
func WrapInternal(_ context.Context, err error, message string) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// RespondWithError writes err as an envelope. Errors that are not an
// AppError become INTERNAL_ERROR without exposing their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = WrapInternal(r.Context(), err, "internal server error")
	}
	body := HTTPErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: r.Header.Get("X-Request-ID"),
		Details:   appErr.Details,
	}
	WriteJSON(w, appErr.Status, HTTPErrorResponse{Error: body})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
