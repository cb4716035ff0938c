package bigcontext

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitClient wraps a RemoteClient with proactive rate limiting.
// Requests are blocked until the rate budget allows them to proceed.
type rateLimitClient struct {
	inner   RemoteClient
	limiter *rate.Limiter // nil when RPM is unset

	mu  sync.Mutex
	tpm int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures a rateLimitClient.
type RateLimitOption func(*rateLimitClient)

// RPM sets the maximum requests per minute, enforced with a token bucket
// (burst = n, refill = n/60 per second).
func RPM(n int) RateLimitOption {
	return func(r *rateLimitClient) {
		if n > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
		}
	}
}

// TPM sets the maximum tokens per minute (prompt + completion combined).
// Token counts are recorded from Usage after each request. This is a soft
// limit — the request that exceeds the budget completes, but subsequent
// requests block until the window slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitClient) { r.tpm = n }
}

// WithRateLimit wraps c with proactive rate limiting. Compose with WithRetry:
//
//	remote = bigcontext.WithRateLimit(remote, bigcontext.RPM(60))
//	remote = bigcontext.WithRateLimit(remote, bigcontext.RPM(60), bigcontext.TPM(100000))
//	remote = bigcontext.WithRateLimit(bigcontext.WithRetry(remote), bigcontext.RPM(60))
func WithRateLimit(c RemoteClient, opts ...RateLimitOption) RemoteClient {
	r := &rateLimitClient{inner: c}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitClient) Name() string { return r.inner.Name() }

func (r *rateLimitClient) Complete(ctx context.Context, modelID string, messages []ChatMessage, maxTokens int) (string, string, Usage, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return "", "", Usage{}, err
	}
	content, finishReason, usage, err := r.inner.Complete(ctx, modelID, messages, maxTokens)
	if err == nil {
		r.recordUsage(usage)
	}
	return content, finishReason, usage, err
}

// waitForBudget blocks until both the RPM bucket and the TPM window allow a
// request. Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitClient) waitForBudget(ctx context.Context) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if r.tpm <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		var total int
		for _, e := range r.tpmWindow {
			total += e.tokens
		}
		if total < r.tpm {
			r.mu.Unlock()
			return nil
		}

		wait := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// recordUsage adds token counts to the TPM sliding window.
func (r *rateLimitClient) recordUsage(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.PromptTokens + u.CompletionTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: total})
	r.mu.Unlock()
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

// compile-time check
var _ RemoteClient = (*rateLimitClient)(nil)
