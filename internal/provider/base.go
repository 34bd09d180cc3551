package provider

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 1 * time.Second
)

// BasePolicy implements the cross-cutting behavior every concrete provider
// shares: validation, timeout, retry, and latency measurement (spec
// §4.7). Concrete providers hold a BasePolicy and call its Complete around
// their vendor-specific completion call.
type BasePolicy struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewBasePolicy applies spec §4.7's defaults for any zero field.
func NewBasePolicy(timeout time.Duration, maxRetries int, retryDelay time.Duration) BasePolicy {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return BasePolicy{Timeout: timeout, MaxRetries: maxRetries, RetryDelay: retryDelay}
}

// ValidateRequest enforces spec §4.7's validation rules.
func ValidateRequest(req Request) error {
	if len(req.Messages) == 0 {
		return newError(ErrInvalidRequest, 0, "messages must not be empty")
	}
	if req.Model == "" {
		return newError(ErrInvalidRequest, 0, "model must not be empty")
	}
	if req.MaxTokens <= 0 {
		return newError(ErrInvalidRequest, 0, "maxTokens must be positive")
	}
	return nil
}

// Complete runs fn under the policy's timeout and retry rules, measuring
// latency on success. fn should return a *Error (or wrap one) for vendor
// failures so retry classification works; any other error goes through
// classify: a context deadline becomes ErrTimeout and a net.Error becomes
// ErrNetwork (both retried), and anything else is ErrUnknown and not
// retried.
func (p BasePolicy) Complete(ctx context.Context, req Request, fn func(ctx context.Context) (*CompletionResponse, error)) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	delay := p.RetryDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		resp, err := fn(attemptCtx)
		cancel()

		if err == nil {
			resp.Latency = time.Since(start)
			return resp, nil
		}

		lastErr = classify(err, attemptCtx)
		var perr *Error
		if !errors.As(lastErr, &perr) || !perr.Kind.Retryable() || attempt == p.MaxRetries {
			return nil, lastErr
		}

		wait := delay
		if perr.RetryAfterMS > 0 {
			wait = time.Duration(perr.RetryAfterMS) * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return nil, lastErr
}

// classify normalizes a raw error into the unified taxonomy when the
// caller didn't already produce an *Error (e.g. context deadline, network
// dial failure surfaced by net/http).
func classify(err error, ctx context.Context) error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return newError(ErrTimeout, 0, "operation timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newError(ErrNetwork, 0, err.Error())
	}
	return newError(ErrUnknown, 0, err.Error())
}
