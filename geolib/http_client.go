package geolib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRateLimitInterval                  = 100 * time.Millisecond
	DefaultRateLimitBurst                     = 10
	DefaultCircuitBreakerOpenThreshold        = 5
	DefaultCircuitBreakerHalfOpenTimeout      = 30 * time.Second
	DefaultCircuitBreakerResetFailuresTimeout = time.Minute
)

var errUpstreamFailure = errors.New("upstream failure")

type httpClient struct {
	userAgent      string
	client         *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *circuitBreaker
}

// Do sends a request. Unlike a plain http.Client, responses with 5xx
// status codes are counted as failures by circuit breaker but are still
// returned to the caller as is.
func (h httpClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	req.Header.Set("User-Agent", h.userAgent)

	err := h.circuitBreaker.Do(req.Context(), func(ctx context.Context) error {
		if err := h.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrCircuitBreakerIgnore, err)
		}

		response, err := h.client.Do(req)
		if err != nil {
			return err
		}

		resp = response

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: netloc has responded with %s", errUpstreamFailure, resp.Status)
		}

		return nil
	})

	switch {
	case err == nil, errors.Is(err, errUpstreamFailure):
		return resp, nil
	case resp != nil:
		flushResponse(resp.Body)
	}

	return nil, err
}

// NewHTTPClient prepares a new HTTP client, wraps it with rate limiter,
// circuit breaker, sets a user agent etc.
//
// Please see https://pkg.go.dev/golang.org/x/time/rate to get a meaning
// of rate limiter parameters.
//
// circuitBreakerOpenThreshold is a number of consecutive failures after
// which circuit breaker becomes OPEN and blocks access to a target.
// Failures counter is reset every circuitBreakerResetFailuresTimeout.
// After circuitBreakerHalfOpenTimeout an OPEN breaker goes into
// HALF_OPEN state and allows a single attempt: success closes the
// breaker, failure opens it again.
func NewHTTPClient(client *http.Client,
	userAgent string,
	rateLimiterInterval time.Duration,
	rateLimitBurst int,
	circuitBreakerOpenThreshold uint32,
	circuitBreakerHalfOpenTimeout, circuitBreakerResetFailuresTimeout time.Duration) HTTPClient {
	return httpClient{
		userAgent:   userAgent,
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Every(rateLimiterInterval), rateLimitBurst),
		circuitBreaker: newCircuitBreaker(circuitBreakerOpenThreshold,
			circuitBreakerHalfOpenTimeout,
			circuitBreakerResetFailuresTimeout),
	}
}

func flushResponse(body io.ReadCloser) {
	io.Copy(io.Discard, body) // nolint: errcheck
	body.Close()
}
