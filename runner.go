package bigcontext

import (
	"context"
	"fmt"
	"log"
)

// ModelResolver looks up catalog metadata for a model ID. The Catalog type
// is the production implementation; tests can stub it directly.
type ModelResolver interface {
	Resolve(ctx context.Context, modelID string) (ModelInfo, error)
}

// JobRunner drives a job from dispatch through to its terminal artifact: it
// runs the Scheduler, decides the job's terminal status, invokes the
// Stitcher when chunks succeeded, and writes the chat-facing
// AssistantMessage exactly once. The start, retry, and resume control
// endpoints all go through the same Run method, so a job reaches the same
// terminal state regardless of which endpoint drove the last dispatch.
type JobRunner struct {
	store     Store
	scheduler *Scheduler
	stitcher  *Stitcher
	models    ModelResolver
}

// NewJobRunner builds a JobRunner over an already-constructed Scheduler and
// Stitcher sharing the same Store.
func NewJobRunner(store Store, scheduler *Scheduler, stitcher *Stitcher, models ModelResolver) *JobRunner {
	return &JobRunner{store: store, scheduler: scheduler, stitcher: stitcher, models: models}
}

// Run dispatches jobID's pending chunks and carries the job to a terminal
// state. It is safe to call more than once for the same job (e.g. resume
// after a process restart): chunks already in a terminal state are skipped
// by the scheduler, and the assistant-message insertion here is guarded so
// a job that was already finalized is never given a second message.
func (r *JobRunner) Run(ctx context.Context, jobID string) error {
	if err := r.scheduler.Run(ctx, jobID); err != nil {
		if job, gerr := r.store.GetJob(ctx, jobID); gerr == nil {
			if serr := r.store.SetJobTerminal(ctx, jobID, JobFailed, nil); serr != nil {
				log.Printf("[runner] job %s: mark failed after dispatch error: %v", jobID, serr)
			}
			if merr := r.insertMessageOnce(ctx, job, FailurePrefix+": "+err.Error()); merr != nil {
				log.Printf("[runner] job %s: failure message after dispatch error: %v", jobID, merr)
			}
		}
		return fmt.Errorf("bigcontext: dispatch job %s: %w", jobID, err)
	}

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("bigcontext: load job %s for finalize: %w", jobID, err)
	}
	if job.Status == JobCancelled {
		return r.finishCancelled(ctx, job)
	}

	chunks, err := r.store.GetChunks(ctx, jobID)
	if err != nil {
		return fmt.Errorf("bigcontext: load chunks of job %s for finalize: %w", jobID, err)
	}

	var outputs []string
	var anySucceeded bool
	for _, c := range chunks {
		if c.Status == ChunkCompleted && c.OutputText != nil {
			anySucceeded = true
			outputs = append(outputs, *c.OutputText)
		}
	}

	if !anySucceeded {
		return r.finishFailed(ctx, job)
	}

	if err := r.store.UpdateJobStatus(ctx, jobID, JobStitching); err != nil {
		log.Printf("[runner] job %s: mark stitching: %v", jobID, err)
	}

	model, err := r.models.Resolve(ctx, job.ModelID)
	if err != nil {
		log.Printf("[runner] job %s: resolve model %s for stitch: %v", jobID, job.ModelID, err)
		model = ModelInfo{}
	}

	stitched, err := r.stitcher.Stitch(ctx, job.ModelID, model, job.Instruction, job.EnableStitchPass, outputs)
	if err != nil {
		log.Printf("[runner] job %s: stitch: %v", jobID, err)
		stitched = joinOutputsFallback(outputs)
	}

	return r.finishCompleted(ctx, job, stitched)
}

func (r *JobRunner) finishCancelled(ctx context.Context, job Job) error {
	return r.insertMessageOnce(ctx, job, "")
}

func (r *JobRunner) finishFailed(ctx context.Context, job Job) error {
	if err := r.store.SetJobTerminal(ctx, job.ID, JobFailed, nil); err != nil {
		return fmt.Errorf("bigcontext: mark job %s failed: %w", job.ID, err)
	}
	return r.insertMessageOnce(ctx, job, FailurePrefix+": every section failed processing")
}

func (r *JobRunner) finishCompleted(ctx context.Context, job Job, stitched string) error {
	if err := r.store.SetJobTerminal(ctx, job.ID, JobCompleted, &stitched); err != nil {
		return fmt.Errorf("bigcontext: mark job %s completed: %w", job.ID, err)
	}
	return r.insertMessageOnce(ctx, job, stitched)
}

// insertMessageOnce inserts the job's terminal AssistantMessage unless one
// already exists, so a Run invoked twice for the same job (resume racing a
// still-finishing prior run, or a retried finalize after a crash) never
// produces a duplicate chat message. A cancelled job with no content yet
// produced leaves no assistant message at all.
func (r *JobRunner) insertMessageOnce(ctx context.Context, job Job, content string) error {
	if content == "" {
		return nil
	}
	exists, err := r.store.AssistantMessageExists(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("bigcontext: check assistant message for job %s: %w", job.ID, err)
	}
	if exists {
		return nil
	}
	msg := NewAssistantMessage(job.ChatID, job.ID, content)
	if err := r.store.CreateAssistantMessage(ctx, msg); err != nil {
		return fmt.Errorf("bigcontext: insert assistant message for job %s: %w", job.ID, err)
	}
	return nil
}

func joinOutputsFallback(outputs []string) string {
	out := ""
	for i, o := range outputs {
		if i > 0 {
			out += "\n\n"
		}
		out += o
	}
	return out
}
