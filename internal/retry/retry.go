// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Config bounds both the number of attempts and the delay between them.
type Config struct {
	Attempts int           // total attempts including the first; <= 0 means 1
	MinDelay time.Duration // delay before the second attempt
	MaxDelay time.Duration // cap on any single delay
	Jitter   float64       // 0..1, fraction of the delay randomised
}

// DefaultConfig is used for upstream HTTP calls.
func DefaultConfig() Config {
	return Config{
		Attempts: 3,
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 8 * time.Second,
		Jitter:   0.2,
	}
}

// Backoff returns base * 2^attempt capped at max. attempt is zero-based.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// HTTPError is an upstream HTTP failure that carries enough to decide on a retry.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether another attempt could succeed.
// 4xx responses other than 408 and 429 are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusTooManyRequests, httpErr.Status == http.StatusRequestTimeout:
			return true
		case httpErr.Status >= 400 && httpErr.Status < 500:
			return false
		}
	}
	return true
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt == attempts-1 {
			break
		}

		delay := Backoff(cfg.MinDelay, cfg.MaxDelay, attempt)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
			delay = httpErr.RetryAfter
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		if cfg.Jitter > 0 && delay > 0 {
			delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
		}

		slog.Debug("retrying after error", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		err = perm.err
	}
	return result, err
}
