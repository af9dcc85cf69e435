// Package gateway talks HTTP+JSON to the platform's inter-module gateway:
// the record store, the search/indexing service and the user directory.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Header names carried on every gateway request.
const (
	HeaderTenant = "X-Okapi-Tenant"
	HeaderToken  = "X-Okapi-Token"
	HeaderUserID = "X-Okapi-User-Id"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4096

var (
	// ErrNotFound indicates a 404 from the gateway.
	ErrNotFound = errors.New("gateway: not found")

	// ErrMissingURL indicates an empty gateway URL.
	ErrMissingURL = errors.New("gateway: url is required")
)

// Config configures a gateway client.
type Config struct {
	// URL is the gateway base URL, e.g. http://localhost:9130.
	URL string

	// Tenant is sent as X-Okapi-Tenant.
	Tenant string

	// Token is sent as X-Okapi-Token when set.
	Token string

	// Timeout bounds a single HTTP request.
	// Default: 60s
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64

	// Burst is the limiter burst size.
	// Default: 1
	Burst int

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("gateway %s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether a request that failed with err may succeed
// on a later attempt. Client errors other than 429 are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500
	}
	var decodeErr *DecodeError
	return !errors.As(err, &decodeErr)
}

// DecodeError indicates a 2xx response whose body could not be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("gateway %s: decode response: %v", e.Path, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Client is a tenant-scoped gateway client. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	tenant  string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported url scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		base:   base,
		tenant: cfg.Tenant,
		token:  cfg.Token,
		http:   httpClient,
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// Tenant returns the tenant the client is scoped to.
func (c *Client) Tenant() string { return c.tenant }

// WithTenant returns a copy of the client scoped to tenant. The copy
// shares the HTTP client and rate limiter.
func (c *Client) WithTenant(tenant string) *Client {
	cp := *c
	cp.tenant = tenant
	return &cp
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway %s: encode request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenant != "" {
		req.Header.Set(HeaderTenant, c.tenant)
	}
	if c.token != "" {
		req.Header.Set(HeaderToken, c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("gateway request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}
