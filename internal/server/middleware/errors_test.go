package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    int
		message string
	}{
		{
			name: "handler returns normally",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			code: http.StatusCreated,
		},
		{
			name:    "string panic",
			handler: func(http.ResponseWriter, *http.Request) { panic("slice 3 lost its unit") },
			code:    http.StatusInternalServerError,
			message: "panic: slice 3 lost its unit",
		},
		{
			name:    "error panic",
			handler: func(http.ResponseWriter, *http.Request) { panic(errors.New("nil store")) },
			code:    http.StatusInternalServerError,
			message: "panic: nil store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				Recovery(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/data-export/export", nil))
			})
			require.Equal(t, tt.code, rec.Code)
			if tt.message == "" {
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeEnvelope(t, rec)
			assert.Equal(t, "INTERNAL_ERROR", body.Code)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecovery_LogsAndEchoesRequestID(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	h := RequestID(Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/data-export/job-executions", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", decodeEnvelope(t, rec).RequestID)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))

	entries := logs.FilterMessage("handler panic").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "/data-export/job-executions", fields["path"])
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobExecutionId":"x"}`))
	}))
	req := httptest.NewRequest(http.MethodPost, "/data-export/quick-export", nil)
	req.Header.Set("X-Okapi-Tenant", "diku")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "diku", fields["tenant"])
	assert.EqualValues(t, http.StatusAccepted, fields["status"])
	assert.EqualValues(t, len(`{"jobExecutionId":"x"}`), fields["bytes"])
}
