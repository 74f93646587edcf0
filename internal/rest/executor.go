package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"smartcal/internal/core"
	"smartcal/internal/log"
)

const (
	DefaultTimeout = 15 * time.Second

	headerRequestID = "X-Request-Id"
	maxBodySize     = 32 << 20
)

// Authenticator supplies request headers and recovers an expired session.
// session.Manager implements it.
type Authenticator interface {
	Headers(ctx context.Context) (http.Header, error)
	Reauthenticate(ctx context.Context) error
}

// Fetcher is the read side of the executor, used by the query planners.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, opts ...Option) (json.RawMessage, error)
}

type options struct {
	retryOnExpired bool
}

// Option tweaks a single FetchJSON call.
type Option func(*options)

// WithoutExpiredRetry turns off the reauthenticate-and-retry step, so an
// expired session fails the call straight away.
func WithoutExpiredRetry() Option {
	return func(o *options) { o.retryOnExpired = false }
}

// Config configures the executor.
type Config struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Executor issues authenticated GET requests against the backend.
type Executor struct {
	auth    Authenticator
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
}

var _ Fetcher = (*Executor)(nil)

func NewExecutor(auth Authenticator, cfg Config, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		auth:    auth,
		client:  client,
		timeout: timeout,
		logger:  logger.WithComponent(log.ComponentREST),
	}
}

// FetchJSON GETs url and returns the raw JSON body of a 2xx response. An
// expired session is recovered once by reauthenticating and reissuing the
// same request; any other non-2xx status is returned as *core.APIError.
func (e *Executor) FetchJSON(ctx context.Context, url string, opts ...Option) (json.RawMessage, error) {
	o := options{retryOnExpired: true}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := e.do(ctx, url)
	var expired *core.SessionExpiredError
	if !errors.As(err, &expired) {
		return body, err
	}

	if !o.retryOnExpired {
		return nil, &core.AuthError{Reason: "session expired", Err: expired.Cause}
	}

	e.logger.InfoContext(ctx, "Session expired, reauthenticating before retry",
		log.FieldOperation, log.OpReauth, log.FieldUpstreamURL, url, log.FieldRetry, 1)
	if rerr := e.auth.Reauthenticate(ctx); rerr != nil {
		return nil, &core.AuthError{Reason: "reauthentication failed", Err: errors.Join(expired, rerr)}
	}

	return e.FetchJSON(ctx, url, append(opts[:len(opts):len(opts)], WithoutExpiredRetry())...)
}

func (e *Executor) do(ctx context.Context, url string) (json.RawMessage, error) {
	headers, err := e.auth.Headers(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = headers
	requestID := uuid.NewString()
	req.Header.Set(headerRequestID, requestID)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.WarnContext(ctx, "Backend request failed",
			log.FieldRequestID, requestID, log.FieldUpstreamURL, url, log.FieldError, err)
		return nil, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response of %s: %w", req.URL.Path, err)
	}

	e.logger.DebugContext(ctx, "Backend request",
		log.FieldRequestID, requestID,
		log.FieldUpstreamURL, url,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &core.APIError{Status: resp.StatusCode, Body: string(raw)}
		if core.IsSessionExpired(resp.StatusCode, apiErr.Body) {
			return nil, &core.SessionExpiredError{Cause: apiErr}
		}
		return nil, apiErr
	}

	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("response of %s is not valid JSON", req.URL.Path)
	}
	return json.RawMessage(raw), nil
}

// Get fetches url through f and decodes the body into T.
func Get[T any](ctx context.Context, f Fetcher, url string, opts ...Option) (T, error) {
	var out T
	raw, err := f.FetchJSON(ctx, url, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
