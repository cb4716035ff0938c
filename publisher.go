package bigcontext

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PublishInterval is the polling cadence the SSE handler uses between
// Publisher.Snapshot calls for a given job.
const PublishInterval = 1500 * time.Millisecond

// StaleThreshold is how long completedChunks may sit unchanged before a
// snapshot is flagged stale, signaling to the client that dispatch may be
// stuck rather than merely slow.
const StaleThreshold = 3 * time.Minute

// Publisher builds point-in-time JobSnapshots and tracks, per job, how long
// progress has gone unchanged so it can flag staleness without the caller
// maintaining any state of its own.
type Publisher struct {
	store Store

	mu       sync.Mutex
	progress map[string]progressMark
}

type progressMark struct {
	completedChunks int
	observedAt      time.Time
}

// NewPublisher builds a Publisher over store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store, progress: make(map[string]progressMark)}
}

// Snapshot builds the current JobSnapshot for jobID. Aggregates (tokens,
// cost, failed count) are computed in-process from the same chunk list the
// snapshot reports, so a single snapshot is always internally consistent
// even if the underlying rows change between the job and chunk reads.
func (p *Publisher) Snapshot(ctx context.Context, jobID string) (JobSnapshot, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, fmt.Errorf("bigcontext: load job %s for snapshot: %w", jobID, err)
	}
	chunks, err := p.store.GetChunks(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, fmt.Errorf("bigcontext: load chunks of job %s for snapshot: %w", jobID, err)
	}

	snap := JobSnapshot{
		ID:              job.ID,
		Status:          job.Status,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
		Chunks:          make([]ChunkSnapshot, len(chunks)),
		StartedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		Model:           job.ModelID,
		StitchedOutput:  job.StitchedOutput,
		Done:            job.Status.Terminal(),
	}

	for i, c := range chunks {
		cs := ChunkSnapshot{Index: c.Index, Status: c.Status}
		if c.Error != nil {
			cs.Error = *c.Error
		}
		snap.Chunks[i] = cs

		snap.TotalTokens += c.Tokens
		snap.TotalCost += c.Cost
		if c.Status == ChunkFailed {
			snap.FailedChunks++
		}
	}

	if job.Status == JobFailed {
		snap.Error = fmt.Sprintf("%s: every section failed processing", FailurePrefix)
	}

	snap.IsStale, snap.StaleDurationMs = p.observe(jobID, job)
	return snap, nil
}

// observe updates the per-job progress mark and reports whether the job has
// shown no forward progress for at least StaleThreshold. Terminal jobs and
// jobs not yet seen are never stale.
func (p *Publisher) observe(jobID string, job Job) (bool, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	mark, ok := p.progress[jobID]
	if !ok || job.CompletedChunks != mark.completedChunks {
		p.progress[jobID] = progressMark{completedChunks: job.CompletedChunks, observedAt: now}
		return false, 0
	}

	if job.Status.Terminal() {
		return false, 0
	}

	stale := now.Sub(mark.observedAt)
	if stale < StaleThreshold {
		return false, 0
	}
	return true, stale.Milliseconds()
}

// Forget drops a job's tracked progress mark, freeing memory once a client
// stops streaming it (e.g. the SSE connection closes after Done).
func (p *Publisher) Forget(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.progress, jobID)
}
