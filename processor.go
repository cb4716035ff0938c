package bigcontext

import (
	"context"
	"fmt"
)

// PreDispatchHook runs before a chunk's messages are sent to the Remote
// Client. Implementations can redact or augment the messages, or return an
// error to halt that chunk.
// Must be safe for concurrent use — the scheduler calls these from up to
// MAX_CONCURRENCY worker goroutines.
type PreDispatchHook interface {
	PreDispatch(ctx context.Context, chunk *Chunk, messages *[]ChatMessage) error
}

// PostChunkHook runs after a chunk's Remote Client call succeeds, before
// the result is persisted; failed chunks do not pass through it. Implementations observe the outcome; they do not
// get to veto persistence.
// Must be safe for concurrent use.
type PostChunkHook interface {
	PostChunk(ctx context.Context, chunk *Chunk) error
}

// ErrHalt signals that a hook wants to stop processing the current chunk
// and record it as failed with the given message, without ever reaching
// the Remote Client.
type ErrHalt struct {
	Reason string
}

func (e *ErrHalt) Error() string { return "hook halted: " + e.Reason }

// HookChain holds an ordered list of hooks and runs them at each hook
// point. Hooks are pre-bucketed by interface at Add() time, eliminating
// per-call type assertions on the dispatch hot path.
type HookChain struct {
	hooks []any
	pre   []PreDispatchHook
	post  []PostChunkHook
}

// NewHookChain creates an empty chain.
func NewHookChain() *HookChain {
	return &HookChain{}
}

// Add appends a hook to the chain. The hook must implement at least one of
// PreDispatchHook or PostChunkHook. Panics if h implements neither.
func (c *HookChain) Add(h any) {
	pre, isPre := h.(PreDispatchHook)
	post, isPost := h.(PostChunkHook)
	if !isPre && !isPost {
		panic(fmt.Sprintf("bigcontext: hook %T implements neither PreDispatchHook nor PostChunkHook", h))
	}
	c.hooks = append(c.hooks, h)
	if isPre {
		c.pre = append(c.pre, pre)
	}
	if isPost {
		c.post = append(c.post, post)
	}
}

// RunPreDispatch runs all PreDispatchHook hooks in registration order.
// Stops and returns the first non-nil error.
func (c *HookChain) RunPreDispatch(ctx context.Context, chunk *Chunk, messages *[]ChatMessage) error {
	for _, h := range c.pre {
		if err := h.PreDispatch(ctx, chunk, messages); err != nil {
			return err
		}
	}
	return nil
}

// RunPostChunk runs all PostChunkHook hooks in registration order. Stops
// and returns the first non-nil error.
func (c *HookChain) RunPostChunk(ctx context.Context, chunk *Chunk) error {
	for _, h := range c.post {
		if err := h.PostChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered hooks.
func (c *HookChain) Len() int { return len(c.hooks) }
