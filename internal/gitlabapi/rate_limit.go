package gitlabapi

import (
	"net/http"
	"strconv"
	"time"
)

// Decision reasons.
const (
	reasonThrottled      = "throttled"
	reasonNoHeaders      = "no_rate_headers"
	reasonWithinBudget   = "within_budget"
	reasonResetElapsed   = "reset_elapsed"
	reasonBelowThreshold = "remaining_below_threshold"
)

// RateLimitHeaders is the parsed rate-limit state of one GitLab response.
type RateLimitHeaders struct {
	Limit      int
	Remaining  int
	ResetUnix  int64
	RetryAfter time.Duration
	Throttled  bool
	// Present is false when the host sent no RateLimit-* headers at all.
	Present bool
}

// Decision tells the client whether to keep calling, and if not, how long to pause.
type Decision struct {
	Allow   bool
	WaitFor time.Duration
	Reason  string
}

// RateLimitPolicy pauses callers that drop below MinRemainingThreshold until the window resets,
// and backs off at least SecondaryLimitBackoff on a 429.
type RateLimitPolicy struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
	Now                   func() time.Time
}

// ParseRateLimitHeaders reads RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset and
// Retry-After. Unparseable values read as zero.
func ParseRateLimitHeaders(header http.Header, statusCode int) RateLimitHeaders {
	remaining, present := header.Get("RateLimit-Remaining"), false
	if remaining != "" {
		present = true
	}
	return RateLimitHeaders{
		Limit:      parseInt(header.Get("RateLimit-Limit")),
		Remaining:  parseInt(remaining),
		ResetUnix:  parseInt64(header.Get("RateLimit-Reset")),
		RetryAfter: time.Duration(max(parseInt(header.Get("Retry-After")), 0)) * time.Second,
		Throttled:  statusCode == http.StatusTooManyRequests,
		Present:    present,
	}
}

// Evaluate applies the policy to one response's headers.
func (p RateLimitPolicy) Evaluate(headers RateLimitHeaders) Decision {
	switch {
	case headers.Throttled:
		return Decision{WaitFor: max(p.SecondaryLimitBackoff, headers.RetryAfter), Reason: reasonThrottled}
	case !headers.Present:
		return Decision{Allow: true, Reason: reasonNoHeaders}
	case headers.Remaining >= p.MinRemainingThreshold:
		return Decision{Allow: true, Reason: reasonWithinBudget}
	}

	now := p.now()
	resetAt := time.Unix(headers.ResetUnix, 0)
	if !resetAt.After(now) {
		return Decision{Allow: true, Reason: reasonResetElapsed}
	}
	return Decision{WaitFor: resetAt.Sub(now) + p.MinResetBuffer, Reason: reasonBelowThreshold}
}

func (p RateLimitPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func parseInt(raw string) int {
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt64(raw string) int64 {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
