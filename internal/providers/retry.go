package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// HTTPError is a non-2xx upstream response. Status drives retry policy;
// Body is kept for operator logs.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// Transient reports whether the status is worth retrying: rate limit and
// server errors only. Client errors (schema/param issues) are permanent.
func (e *HTTPError) Transient() bool {
	switch e.Status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// ParseRetryAfter parses a Retry-After header value in seconds.
// Returns 0 for empty or unparseable values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig controls backoff for upstream calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultRetryConfig matches the engine's upstream policy: two retries,
// 750ms base delay, doubling per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  750 * time.Millisecond,
		Multiplier: 2.0,
	}
}

// RetryDo runs fn with exponential backoff. Permanent upstream errors
// (non-transient HTTPError) abort immediately; transport failures and
// transient statuses retry up to cfg.MaxRetries. A Retry-After hint
// longer than the computed backoff wins.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			var httpErr *HTTPError
			if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > wait {
				wait = httpErr.RetryAfter
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Transient() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}

	return zero, lastErr
}
