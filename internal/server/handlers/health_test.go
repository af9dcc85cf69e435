package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

func passing() HealthChecker { return checkerFunc(func(context.Context) error { return nil }) }

func failing(msg string) HealthChecker {
	return checkerFunc(func(context.Context) error { return errors.New(msg) })
}

// hanging blocks until its deadline, like a locked database.
func hanging() HealthChecker {
	return checkerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func serveHealth(t *testing.T, ctx context.Context, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func withGlobalManager(t *testing.T, m *HealthManager) {
	t.Helper()
	prev := globalHealthManager
	globalHealthManager = m
	t.Cleanup(func() { globalHealthManager = prev })
}

func TestHealthHandler_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]HealthChecker
		code     int
		status   string
	}{
		{
			name:     "all dependencies up",
			checkers: map[string]HealthChecker{"store": passing(), "signal": passing()},
			code:     http.StatusOK,
			status:   "healthy",
		},
		{
			name:     "no checkers",
			checkers: nil,
			code:     http.StatusOK,
			status:   "healthy",
		},
		{
			name:     "store down",
			checkers: map[string]HealthChecker{"store": failing("database is locked"), "signal": passing()},
			code:     http.StatusServiceUnavailable,
			status:   "unhealthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewHealthManager("2.0.0")
			for name, c := range tt.checkers {
				m.RegisterChecker(name, c)
			}
			rec := serveHealth(t, context.Background(), m.HealthHandler)
			require.Equal(t, tt.code, rec.Code)

			if tt.code == http.StatusOK {
				var resp HealthResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.status, resp.Status)
				assert.Equal(t, "2.0.0", resp.Version)
				assert.Len(t, resp.Checks, len(tt.checkers))
				return
			}

			var resp struct {
				Error struct {
					Code    string         `json:"code"`
					Details map[string]any `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
			assert.Equal(t, tt.status, resp.Error.Details["status"])
			checks, ok := resp.Error.Details["checks"].(map[string]any)
			require.True(t, ok, "details carry per-check results")
			assert.Equal(t, "unhealthy", checks["store"])
			assert.Equal(t, "healthy", checks["signal"])
		})
	}
}

func TestHealthHandler_SlowCheckerIsDegraded(t *testing.T) {
	m := NewHealthManager("2.0.0")
	m.RegisterChecker("store", passing())
	m.RegisterChecker("gateway", hanging())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := serveHealth(t, ctx, m.HealthHandler)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "timeout", resp.Checks["gateway"])
	assert.Equal(t, "healthy", resp.Checks["store"])
}

func TestDetermineOverallStatus(t *testing.T) {
	m := NewHealthManager("dev")
	assert.Equal(t, "healthy", m.determineOverallStatus(map[string]string{"store": "healthy"}))
	assert.Equal(t, "degraded", m.determineOverallStatus(map[string]string{"store": "timeout", "signal": "healthy"}))
	assert.Equal(t, "unhealthy", m.determineOverallStatus(map[string]string{"store": "timeout", "signal": "unhealthy"}))
}

func TestRegisterChecker_Replaces(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("store", failing("down"))
	m.RegisterChecker("store", passing())

	rec := serveHealth(t, context.Background(), m.HealthHandler)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessIgnoresFailingCheckers(t *testing.T) {
	m := NewHealthManager("2.0.0")
	m.RegisterChecker("store", failing("database is locked"))

	rec := serveHealth(t, context.Background(), m.LivenessHandler)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestGlobalHandlers(t *testing.T) {
	t.Run("initialized", func(t *testing.T) {
		withGlobalManager(t, nil)
		m := InitHealthManager("2.0.0")
		assert.Same(t, m, GetHealthManager())
		m.RegisterChecker("store", failing("down"))

		assert.Equal(t, http.StatusServiceUnavailable, serveHealth(t, context.Background(), HealthHandler).Code)
		assert.Equal(t, http.StatusServiceUnavailable, serveHealth(t, context.Background(), ReadinessHandler).Code)
		assert.Equal(t, http.StatusOK, serveHealth(t, context.Background(), LivenessHandler).Code)
		assert.Equal(t, http.StatusOK, serveHealth(t, context.Background(), StartupHandler).Code)
	})

	t.Run("not initialized", func(t *testing.T) {
		withGlobalManager(t, nil)
		assert.Nil(t, GetHealthManager())
		for name, h := range map[string]http.HandlerFunc{
			"health":    HealthHandler,
			"liveness":  LivenessHandler,
			"readiness": ReadinessHandler,
			"startup":   StartupHandler,
		} {
			assert.Equal(t, http.StatusServiceUnavailable, serveHealth(t, context.Background(), h).Code, name)
		}
	})
}
