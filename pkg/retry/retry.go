package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, default 0.1 for +/-10% jitter to prevent thundering herd
}

// DefaultConfig returns defaults for asset fetches and artifact writes:
// 3 retries with 500ms initial delay, capped at 10s, doubling each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// initial * multiplier^(attempt-1), capped at MaxDelay, with jitter applied.
func (c *Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// OnRetry is called before each wait with the upcoming attempt number,
// the wait duration and the error that caused the retry.
type OnRetry func(attempt int, delay time.Duration, err error)

// Do runs fn until it succeeds, returns a non-retryable error, or MaxRetries
// retries are spent. The last error is returned unchanged so callers can
// classify it. Context cancellation during a wait returns ctx.Err().
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error, onRetry OnRetry) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, onRetry)
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error), onRetry OnRetry) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return result, err
		}

		delay := cfg.Delay(attempt + 1)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}

// RetryableError is an interface for errors that explicitly declare their retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
//
// Checks in order:
// 1. context cancellation and deadlines are never retried
// 2. an error in the chain implementing RetryableError decides
// 3. network timeouts, connection resets/refusals and unexpected EOF are retried
// 4. otherwise, pattern-match against known transient error strings
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"temporary failure",
		"too many connections",
		"network is unreachable",
		"service unavailable",
		"too many requests",
		"slow down",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
