package clients

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/errors"
)

// HTTPClientConfig configures the shared API client
type HTTPClientConfig struct {
	Timeout         time.Duration
	RateLimitPerSec int
	CircuitBreaker  bool
	Headers         map[string]string
}

// HTTPClient is the JSON client GraphQL and REST connectors share. Every
// request passes the rate limiter first and then the circuit breaker, so
// a dying origin is neither hammered nor flooded.
type HTTPClient struct {
	client  *http.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	headers map[string]string
	logger  *zap.Logger
}

// NewHTTPClient creates a client with the given throttling configuration
func NewHTTPClient(cfg HTTPClientConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(cfg.RateLimitPerSec),
		headers: cfg.Headers,
		logger:  logger.With(zap.String("component", "http_client")),
	}
	if cfg.CircuitBreaker {
		c.breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig(), logger)
	}
	return c
}

// PostJSON sends body as JSON and decodes the response into out
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
	}
	return c.do(ctx, http.MethodPost, url, payload, out)
}

// GetJSON fetches url and decodes the response into out
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out interface{}) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	}

	call := func() error {
		return c.roundTrip(ctx, method, url, payload, out)
	}
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response body")
	}
	return nil
}

// statusError maps an HTTP status to the error taxonomy so the retry
// layers can tell transient failures from terminal ones.
func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeAuthentication, "request rejected with status %d: %s", status, body)
	case status == http.StatusTooManyRequests:
		return errors.Newf(errors.ErrorTypeRateLimit, "rate limited by origin: %s", body)
	case status == http.StatusNotFound:
		return errors.Newf(errors.ErrorTypeNotFound, "resource not found: %s", body)
	case status >= 500:
		return errors.Newf(errors.ErrorTypeTransient, "origin returned status %d: %s", status, body)
	default:
		return errors.Newf(errors.ErrorTypeValidation, "request failed with status %d: %s", status, body)
	}
}
