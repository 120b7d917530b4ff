package base

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"payverify/internal/provider"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds retries of transient failures on one outbound call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// NoRetry makes exactly one attempt
func NoRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsed

	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// HTTPClient provides common HTTP functionality for providers
type HTTPClient struct {
	r     *resty.Client
	name  string // provider name for logging
	retry RetryPolicy
}

// NewHTTPClient creates a new HTTP client; retries are driven by policy, not resty.
func NewHTTPClient(providerName, baseURL string, timeout time.Duration, policy RetryPolicy) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "PayVerify/"+providerName)

	return &HTTPClient{r: r, name: providerName, retry: policy}
}

// Request describes one outbound call
type Request struct {
	Method    string
	Path      string
	Query     map[string]string
	Headers   map[string]string
	Body      any
	BasicUser string
	BasicPass string
	// RawServerErrors returns 5xx responses to the caller instead of retrying
	// them, for APIs that report business states with a 5xx status.
	RawServerErrors bool
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess checks if the response indicates success (2xx status code)
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the response body into v
func (r *HTTPResponse) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string
func (r *HTTPResponse) String() string {
	return string(r.Body)
}

// Do executes req under the retry policy. Transport failures, 429 and 5xx
// are retried; once exhausted they surface as a timeout or unavailable
// *provider.ProviderError. Every other status is returned to the caller.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*HTTPResponse, error) {
	var out *HTTPResponse
	attempt := 0

	op := func() error {
		attempt++
		resp, err := c.once(ctx, req)
		if err != nil {
			log.Warn().
				Str("provider", c.name).
				Str("path", req.Path).
				Int("attempt", attempt).
				Err(err).
				Msg("HTTP request failed")
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && !req.RawServerErrors) {
			log.Warn().
				Str("provider", c.name).
				Str("path", req.Path).
				Int("attempt", attempt).
				Int("status_code", resp.StatusCode).
				Msg("provider returned retryable status")
			out = resp
			return &provider.ProviderError{
				Kind:    provider.KindUnavailable,
				Code:    "provider_down",
				Message: fmt.Sprintf("provider %s returned status %d", c.name, resp.StatusCode),
			}
		}
		out = resp
		return nil
	}

	if err := backoff.Retry(op, c.retry.backOff(ctx)); err != nil {
		return nil, classify(c.name, err)
	}
	return out, nil
}

func (c *HTTPClient) once(ctx context.Context, req Request) (*HTTPResponse, error) {
	r := c.r.R().SetContext(ctx)
	if req.Query != nil {
		r.SetQueryParams(req.Query)
	}
	if req.Headers != nil {
		r.SetHeaders(req.Headers)
	}
	if req.BasicUser != "" {
		r.SetBasicAuth(req.BasicUser, req.BasicPass)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	log.Debug().
		Str("provider", c.name).
		Str("method", req.Method).
		Str("path", req.Path).
		Msg("making HTTP request")

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", c.name).
		Int("status_code", resp.StatusCode()).
		Int("body_length", len(resp.Body())).
		Msg("received HTTP response")

	return &HTTPResponse{
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// classify maps a transport failure onto a provider error kind
func classify(name string, err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &provider.ProviderError{
			Kind:    provider.KindTimeout,
			Code:    "provider_timeout",
			Message: fmt.Sprintf("%s request timed out", name),
			Err:     err,
		}
	}
	return &provider.ProviderError{
		Kind:    provider.KindUnavailable,
		Code:    "request_failed",
		Message: fmt.Sprintf("%s request failed", name),
		Err:     err,
	}
}
