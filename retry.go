package bigcontext

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"
)

// retryClient wraps a RemoteClient and retries a call when the error
// classifies as rate-limited. Every other error kind is returned to
// the caller after exactly one attempt — the scheduler is responsible for
// recording those as a permanent chunk failure.
type retryClient struct {
	inner       RemoteClient
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
}

// RetryOption configures a retryClient.
type RetryOption func(*retryClient)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryClient) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryClient) { r.baseDelay = d }
}

// RetryTimeout bounds the whole retry sequence. Zero (default) disables it.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryClient) { r.timeout = d }
}

// WithRetry wraps c with exponential backoff retry on rate-limited errors.
// When the error carries a Retry-After duration, the delay is at least that
// long. Compose with WithRateLimit:
//
//	remote = bigcontext.WithRetry(openaicompat.NewProvider(apiKey, baseURL))
//	remote = bigcontext.WithRetry(openaicompat.NewProvider(apiKey, baseURL), bigcontext.RetryMaxAttempts(5))
func WithRetry(c RemoteClient, opts ...RetryOption) RemoteClient {
	r := &retryClient{
		inner:       c,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name delegates to the inner client.
func (r *retryClient) Name() string { return r.inner.Name() }

// Complete implements RemoteClient with retry.
func (r *retryClient) Complete(ctx context.Context, modelID string, messages []ChatMessage, maxTokens int) (string, string, Usage, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		content, finishReason, usage, err := r.inner.Complete(ctx, modelID, messages, maxTokens)
		if err == nil || ClassifyError(err) != KindRateLimited {
			return content, finishReason, usage, err
		}
		lastErr = err
		log.Printf("[retry] %s: rate-limited (attempt %d/%d), retrying", r.inner.Name(), i+1, r.maxAttempts)
		if i < r.maxAttempts-1 {
			delay := retryDelay(r.baseDelay, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", "", Usage{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return "", "", Usage{}, lastErr
}

// withTimeout returns a child context with a deadline if r.timeout is set.
// The caller must call the returned CancelFunc when done.
func (r *retryClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i: exponential backoff
// as a floor, the server's Retry-After value (if larger) as the effective
// minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed): base * 2^i, plus
// up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ RemoteClient = (*retryClient)(nil)
