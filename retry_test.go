package bigcontext

import (
	"context"
	"testing"
	"time"
)

// stubClient is a test RemoteClient that returns pre-configured results in order.
type stubClient struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	content      string
	finishReason string
	usage        Usage
	err          error
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Complete(_ context.Context, _ string, _ []ChatMessage, _ int) (string, string, Usage, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		r := s.results[i]
		return r.content, r.finishReason, r.usage, r.err
	}
	return "", "", Usage{}, nil
}

var _ RemoteClient = (*stubClient)(nil)

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubClient{results: []stubResult{{content: "hello"}}}
	c := WithRetry(stub, RetryBaseDelay(0))

	content, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "hello" {
		t.Errorf("got %q, want %q", content, "hello")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_DoesNotRetryOn503(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 503, Body: "unavailable"}},
		{content: "hello"},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 503 — server errors get a single attempt)", stub.calls)
	}
}

func TestWithRetry_RetriesOn429(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 429, Body: "rate limited"}},
		{content: "ok"},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 500, Body: "internal error"}},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 500)", stub.calls)
	}
}

func TestWithRetry_DoesNotRetryInvalidRequest(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 400, Body: "bad request"}},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 400)", stub.calls)
	}
}

func TestWithRetry_ExhaustsMaxAttempts(t *testing.T) {
	rateLimited := stubResult{err: &ErrHTTP{Status: 429, Body: "rate limited"}}
	stub := &stubClient{results: []stubResult{rateLimited, rateLimited, rateLimited, rateLimited}}
	c := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err == nil {
		t.Fatal("expected error after max attempts, got nil")
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3", stub.calls)
	}
}

func TestWithRetry_RespectsRetryAfter(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 429, Body: "rate limited", RetryAfter: 100 * time.Millisecond}},
		{content: "ok"},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	start := time.Now()
	content, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok" {
		t.Errorf("got %q, want %q", content, "ok")
	}
	if elapsed < 80*time.Millisecond {
		t.Errorf("retry was too fast: %v, expected at least ~100ms from Retry-After", elapsed)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_TimeoutExceeded(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{content: "ok"},
	}}
	c := WithRetry(stub, RetryBaseDelay(0), RetryTimeout(50*time.Millisecond))

	_, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err == nil {
		t.Fatal("expected error due to timeout, got nil")
	}
	if stub.calls > 2 {
		t.Errorf("got %d calls, expected at most 2 with 50ms timeout", stub.calls)
	}
}

func TestWithRetry_TimeoutAllowsSuccess(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrHTTP{Status: 429}},
		{content: "ok"},
	}}
	c := WithRetry(stub, RetryBaseDelay(0), RetryTimeout(5*time.Second))

	content, _, _, err := c.Complete(context.Background(), "gpt", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok" {
		t.Errorf("got %q, want %q", content, "ok")
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}
