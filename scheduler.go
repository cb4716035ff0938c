package bigcontext

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// MaxConcurrency is the default per-job worker cap, used unless the caller
// passes WithMaxConcurrency to NewScheduler.
const MaxConcurrency = 5

// MaxRetries is the fixed per-chunk retry budget. Each scheduler
// invocation gives every chunk it dispatches a fresh budget — retry-failed
// and resume are new invocations, so previously exhausted chunks get a new
// MaxRetries cycle.
const MaxRetries = 3

// schedulerRetryBaseDelay is the initial backoff before the second attempt,
// doubling on each subsequent attempt.
const schedulerRetryBaseDelay = time.Second

// Scheduler dispatches a job's chunks through a RemoteClient under a
// concurrency cap, persisting results and honoring cancellation.
type Scheduler struct {
	store          Store
	client         RemoteClient
	tracer         Tracer
	hooks          *HookChain
	maxConcurrency int
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption func(*Scheduler)

// WithMaxConcurrency overrides the per-job worker cap. n <= 0 is ignored and
// the compiled-in MaxConcurrency is kept; this lets an operator who has
// measured a different safe value for their own provider raise or lower it
// without a code change.
func WithMaxConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// NewScheduler builds a Scheduler. client should already be wrapped with
// WithRetry(client, RetryMaxAttempts(MaxRetries), RetryBaseDelay(schedulerRetryBaseDelay))
// so that rate-limited chunk calls get the fixed retry policy; the
// scheduler itself does not re-implement backoff.
func NewScheduler(store Store, client RemoteClient, tracer Tracer, hooks *HookChain, opts ...SchedulerOption) *Scheduler {
	if hooks == nil {
		hooks = NewHookChain()
	}
	s := &Scheduler{store: store, client: client, tracer: tracer, hooks: hooks, maxConcurrency: MaxConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches every pending chunk of job through the Remote Client,
// bounded to MaxConcurrency in-flight calls. Run blocks until every chunk of
// the job has a recorded terminal outcome (completed, failed, or
// cancelled); it does not decide the job's own terminal status — that is
// JobRunner's job, once dispatch finishes.
func (s *Scheduler) Run(ctx context.Context, jobID string) error {
	chunks, err := s.store.GetChunks(ctx, jobID)
	if err != nil {
		return fmt.Errorf("bigcontext: load chunks for job %s: %w", jobID, err)
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var cancelled atomic.Bool

	for _, chunk := range chunks {
		if chunk.Status != ChunkPending {
			continue
		}

		if !cancelled.Load() {
			job, err := s.store.GetJob(ctx, jobID)
			if err != nil {
				return fmt.Errorf("bigcontext: check job %s status: %w", jobID, err)
			}
			if job.Status == JobCancelled {
				cancelled.Store(true)
			}
		}

		if cancelled.Load() {
			if err := s.markCancelled(ctx, chunk); err != nil {
				log.Printf("[sched] job %s: mark chunk %d cancelled: %v", jobID, chunk.Index, err)
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, jobID, c, len(chunks))
		}(chunk)
	}

	wg.Wait()
	return nil
}

// process runs one chunk through the Remote Client and persists the
// outcome. Every code path ends by incrementing Job.completedChunks
// exactly once, so progress accounting finishes regardless of outcome.
func (s *Scheduler) process(ctx context.Context, jobID string, chunk Chunk, totalChunks int) {
	var span Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "scheduler.process_chunk",
			IntAttr("chunk_index", chunk.Index), StringAttr("job_id", jobID))
		defer span.End()
	}

	chunk.Status = ChunkProcessing
	if err := s.store.UpdateChunk(ctx, chunk); err != nil {
		log.Printf("[sched] job %s: mark chunk %d processing: %v", jobID, chunk.Index, err)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[sched] job %s: load job for chunk %d: %v", jobID, chunk.Index, err)
		s.recordFailure(ctx, jobID, chunk, err)
		return
	}

	messages := buildChunkMessages(job, chunk, totalChunks)
	if err := s.hooks.RunPreDispatch(ctx, &chunk, &messages); err != nil {
		s.recordFailure(ctx, jobID, chunk, err)
		return
	}

	content, _, usage, err := s.client.Complete(ctx, job.ModelID, messages, 0)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		s.recordFailure(ctx, jobID, chunk, err)
		return
	}

	chunk.Status = ChunkCompleted
	chunk.OutputText = &content
	chunk.Error = nil
	chunk.Tokens = usage.TotalTokens
	chunk.Cost = usage.Cost

	if err := s.hooks.RunPostChunk(ctx, &chunk); err != nil {
		log.Printf("[sched] job %s: post-chunk hook for chunk %d: %v", jobID, chunk.Index, err)
	}

	if err := s.store.UpdateChunk(ctx, chunk); err != nil {
		log.Printf("[sched] job %s: persist chunk %d completion: %v", jobID, chunk.Index, err)
	}
	if _, err := s.store.IncrementCompletedChunks(ctx, jobID, 1); err != nil {
		log.Printf("[sched] job %s: increment completedChunks for chunk %d: %v", jobID, chunk.Index, err)
	}
}

// recordFailure persists a chunk's terminal failure and still advances
// completedChunks, so a job whose chunks all fail still reaches
// completedChunks == totalChunks.
func (s *Scheduler) recordFailure(ctx context.Context, jobID string, chunk Chunk, cause error) {
	msg := cause.Error()
	chunk.Status = ChunkFailed
	chunk.Error = &msg

	if err := s.store.UpdateChunk(ctx, chunk); err != nil {
		log.Printf("[sched] job %s: persist chunk %d failure: %v", jobID, chunk.Index, err)
	}
	if _, err := s.store.IncrementCompletedChunks(ctx, jobID, 1); err != nil {
		log.Printf("[sched] job %s: increment completedChunks for failed chunk %d: %v", jobID, chunk.Index, err)
	}
}

// markCancelled persists a not-yet-launched chunk as cancelled once the job
// has been cancelled. completedChunks is not incremented for cancelled
// chunks — cancellation is a distinct terminal outcome from completion.
func (s *Scheduler) markCancelled(ctx context.Context, chunk Chunk) error {
	chunk.Status = ChunkCancelled
	return s.store.UpdateChunk(ctx, chunk)
}

// buildChunkMessages constructs the bookended system+user prompt for one
// chunk. The bookend repeats the instruction before and after the
// text because some providers drop early instructions from attention on
// very long non-English bodies.
func buildChunkMessages(job Job, chunk Chunk, totalChunks int) []ChatMessage {
	system := fmt.Sprintf(
		"You are a document processor. You are processing %s. "+
			"Apply the following instruction exactly to the given text. "+
			"Do not add preambles or commentary. Do not request more input. "+
			"If the instruction is to translate, never echo the source language. "+
			"Prefer direct quotation over paraphrase. Do not editorialize.",
		positionHint(chunk.Index, totalChunks))

	user := fmt.Sprintf("Instruction: %s\n\n%s\n\nReminder — Instruction: %s",
		job.Instruction, chunk.InputText, job.Instruction)

	return []ChatMessage{SystemMessage(system), UserMessage(user)}
}

// positionHint describes a chunk's place in the document for the system
// prompt.
func positionHint(index, total int) string {
	switch {
	case total <= 1:
		return "the complete text"
	case index == 0:
		return fmt.Sprintf("the beginning of a longer document (section %d of %d) — text may start mid-context", index+1, total)
	case index == total-1:
		return fmt.Sprintf("the end of a longer document (section %d of %d) — text may end mid-context", index+1, total)
	default:
		return fmt.Sprintf("section %d of %d — text may start and end mid-sentence", index+1, total)
	}
}
