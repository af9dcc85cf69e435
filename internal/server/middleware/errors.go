// Package middleware holds the HTTP middleware of the data export server.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

var logger = zap.NewNop()

// SetLogger sets the logger used for recovered panics and access logs.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Recovery turns a panicking handler into a 500 INTERNAL_ERROR envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestID := GetRequestID(r.Context())
			logger.Error("handler panic",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			resp := toResponse(envelope)
			resp.Error.RequestID = requestID
			writeJSON(w, resp, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func toResponse(envelope *errors.ErrorEnvelope) ErrorResponse {
	body := ErrorBody{Code: envelope.Code, Message: envelope.Message}
	if len(envelope.Context) > 0 {
		body.Details = make(map[string]any, len(envelope.Context))
		for k, v := range envelope.Context {
			body.Details[k] = v
		}
	}
	return ErrorResponse{Error: body}
}

func writeJSON(w http.ResponseWriter, resp ErrorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
