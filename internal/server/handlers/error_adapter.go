package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/folio-org/mod-data-export/internal/errors"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
	"github.com/folio-org/mod-data-export/pkg/pipeline"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var (
	httpErrorResponder HTTPErrorResponder = defaultErrorResponder
	logger                                = zap.NewNop()
)

// SetHTTPErrorResponder replaces the error responder. Nil restores the
// default.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		responder = defaultErrorResponder
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default error responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

// SetLogger sets the logger used for server side failures.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// defaultErrorResponder maps domain errors onto HTTP envelopes.
func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, classify(r, err))
}

func classify(r *http.Request, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case exportstore.IsNotFound(err), errors.Is(err, objectstore.ErrNotFound):
		return apperrors.NotFound(err.Error(), err)
	case errors.Is(err, pipeline.ErrValidation):
		return apperrors.Validation(err.Error(), err)
	case errors.Is(err, pipeline.ErrJobRunning), errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, exportstore.ErrJobTerminal):
		return apperrors.Conflict(err.Error(), err)
	case errors.Is(err, pipeline.ErrShutdown):
		return apperrors.ServiceUnavailable(err.Error(), nil)
	}
	logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	return apperrors.WrapInternal(r.Context(), err, "internal server error")
}
