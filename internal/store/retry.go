package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// isRetriable returns true for Redis failures that indicate a transient
// connectivity problem rather than a programming or data error — the same
// narrow classify-by-cause shape as the teacher's storage.isRetriable,
// generalized from Postgres error codes to network/pool exhaustion errors.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// go-redis returns "redis: connection pool timeout" as a plain error
	// with no sentinel; match it by substring the way the client itself
	// documents checking for it.
	return containsPoolTimeout(err.Error())
}

func containsPoolTimeout(msg string) bool {
	const marker = "connection pool timeout"
	for i := 0; i+len(marker) <= len(msg); i++ {
		if msg[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

// withRetry executes fn, retrying up to maxRetries times on transient Redis
// errors with jittered exponential backoff starting at baseDelay. Mirrors
// the teacher's storage.WithRetry.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
