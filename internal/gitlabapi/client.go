package gitlabapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrRateLimited is returned when the host keeps refusing requests after the final attempt.
var ErrRateLimited = errors.New("gitlab rate limit exceeded")

// RetryConfig configures client retry behavior. MaxAttempts <= 1 means every request is attempted once.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallMetadata reports execution metadata for a client call.
type CallMetadata struct {
	Attempts        int
	LastRateHeaders RateLimitHeaders
	LastDecision    Decision
}

// Client wraps GitLab HTTP requests with optional retry and rate-limit controls.
type Client struct {
	doer       HTTPDoer
	retry      RetryConfig
	ratePolicy RateLimitPolicy
	requests   atomic.Int64
	// resumeAt is the UnixNano before which no request is sent; zero means no pause.
	resumeAt atomic.Int64
	// Sleep is injected for testability.
	Sleep func(duration time.Duration)
}

// NewClient creates a GitLab API client wrapper.
func NewClient(doer HTTPDoer, retry RetryConfig, ratePolicy RateLimitPolicy) *Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		doer:       doer,
		retry:      retry,
		ratePolicy: ratePolicy,
		Sleep:      time.Sleep,
	}
}

// Requests reports how many HTTP requests were sent since the client was created.
func (c *Client) Requests() int64 {
	if c == nil {
		return 0
	}
	return c.requests.Load()
}

// Do sends req, retrying transport errors and 5xx/429 answers with exponential backoff. A 429 on
// the final attempt yields ErrRateLimited; any other answer is returned, and a low remaining
// budget delays the next request until the window resets. The caller owns the returned body.
func (c *Client) Do(req *http.Request) (*http.Response, CallMetadata, error) {
	if req == nil {
		return nil, CallMetadata{}, fmt.Errorf("request is nil")
	}

	ctx, span := c.startSpan(req)
	defer span.end()

	metadata := CallMetadata{}
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		metadata.Attempts = attempt
		last := attempt == c.retry.MaxAttempts
		if err := ctx.Err(); err != nil {
			return nil, metadata, err
		}
		c.waitForBudget()

		c.requests.Add(1)
		resp, err := c.doer.Do(req.Clone(ctx))
		if err != nil {
			span.recordError(err)
			if last {
				span.fail(err.Error())
				return nil, metadata, err
			}
			c.Sleep(backoffForAttempt(c.retry, attempt))
			continue
		}

		metadata.LastRateHeaders = ParseRateLimitHeaders(resp.Header, resp.StatusCode)
		metadata.LastDecision = c.ratePolicy.Evaluate(metadata.LastRateHeaders)
		span.attempt(attempt, resp.StatusCode, metadata.LastRateHeaders, metadata.LastDecision)

		switch {
		case metadata.LastRateHeaders.Throttled:
			discardBody(resp)
			if last {
				span.fail("rate-limited")
				return nil, metadata, fmt.Errorf("%w: %s", ErrRateLimited, metadata.LastDecision.Reason)
			}
			c.Sleep(metadata.LastDecision.WaitFor)
		case isTransientStatus(resp.StatusCode) && !last:
			discardBody(resp)
			c.deferPause(metadata.LastDecision)
			c.Sleep(backoffForAttempt(c.retry, attempt))
		default:
			// A low budget never costs the answer in hand; the next request waits instead.
			c.deferPause(metadata.LastDecision)
			if resp.StatusCode >= http.StatusInternalServerError {
				span.fail(fmt.Sprintf("status %d", resp.StatusCode))
			} else {
				span.ok()
			}
			return resp, metadata, nil
		}
	}

	span.fail("request attempts exhausted")
	return nil, metadata, fmt.Errorf("request attempts exhausted")
}

// deferPause makes the next request wait out a low-budget decision. An allowing decision clears
// any pending pause.
func (c *Client) deferPause(decision Decision) {
	if decision.Allow || decision.WaitFor <= 0 {
		c.resumeAt.Store(0)
		return
	}
	c.resumeAt.Store(c.ratePolicy.now().Add(decision.WaitFor).UnixNano())
}

func (c *Client) waitForBudget() {
	resumeAt := c.resumeAt.Load()
	if resumeAt == 0 {
		return
	}
	if wait := time.Unix(0, resumeAt).Sub(c.ratePolicy.now()); wait > 0 {
		c.Sleep(wait)
	}
}

// callSpan is a nil-safe span; it stays empty unless dependency tracing is on.
type callSpan struct {
	span trace.Span
}

func (c *Client) startSpan(req *http.Request) (context.Context, callSpan) {
	ctx := req.Context()
	if !telemetry.ShouldTraceDependencies() {
		return ctx, callSpan{}
	}
	ctx, span := telemetry.Tracer("gitlabapi").Start(ctx, "gitlabapi.client.do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.EscapedPath()),
		attribute.Int("gitlab.max_attempts", c.retry.MaxAttempts),
	))
	return ctx, callSpan{span: span}
}

func (s callSpan) attempt(attempt, statusCode int, headers RateLimitHeaders, decision Decision) {
	if s.span == nil {
		return
	}
	s.span.AddEvent("attempt_completed", trace.WithAttributes(
		attribute.Int("gitlab.attempt", attempt),
		attribute.Int("http.status_code", statusCode),
		attribute.Int("gitlab.rate_limit_remaining", headers.Remaining),
		attribute.Bool("gitlab.rate_limit_allow", decision.Allow),
		attribute.String("gitlab.rate_limit_reason", decision.Reason),
	))
}

func (s callSpan) recordError(err error) {
	if s.span != nil {
		s.span.RecordError(err)
	}
}

func (s callSpan) fail(description string) {
	if s.span != nil {
		s.span.SetStatus(codes.Error, description)
	}
}

func (s callSpan) ok() {
	if s.span != nil {
		s.span.SetStatus(codes.Ok, "request completed")
	}
}

func (s callSpan) end() {
	if s.span != nil {
		s.span.End()
	}
}

func discardBody(resp *http.Response) {
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func isTransientStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode <= 599)
}

// backoffForAttempt doubles InitialBackoff per prior attempt, capped at MaxBackoff when set.
func backoffForAttempt(retry RetryConfig, attempt int) time.Duration {
	backoff := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff >= retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return backoff
}
