package bigcontext

import "context"

// Store abstracts persistence for jobs, chunks, and the chat-facing
// artifacts the control endpoints read and write.
type Store interface {
	// --- Jobs ---
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// GetActiveJob returns the most recent non-terminal job for a chat, or
	// ErrNotFound if none exists.
	GetActiveJob(ctx context.Context, chatID string) (Job, error)
	// GetLatestJob returns the most recently created job for a chat
	// regardless of status, or ErrNotFound if the chat has never had a job.
	// The fetch-document endpoint uses this to find which job's chunks to
	// reassemble.
	GetLatestJob(ctx context.Context, chatID string) (Job, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error
	// IncrementCompletedChunks atomically adds delta to completed_chunks and
	// returns the updated job row. Must be a single server-side statement,
	// not a read-modify-write round trip.
	IncrementCompletedChunks(ctx context.Context, id string, delta int) (Job, error)
	// SetJobTerminal atomically writes the job's final status and stitched
	// output in one transaction.
	SetJobTerminal(ctx context.Context, id string, status JobStatus, stitchedOutput *string) error
	CancelJob(ctx context.Context, id string) error

	// --- Chunks ---
	CreateChunks(ctx context.Context, chunks []Chunk) error
	GetChunks(ctx context.Context, jobID string) ([]Chunk, error)
	GetChunk(ctx context.Context, jobID string, index int) (Chunk, error)
	UpdateChunk(ctx context.Context, chunk Chunk) error
	// ResetFailedChunks transitions every failed chunk of a job back to
	// pending, for the retry control endpoint.
	ResetFailedChunks(ctx context.Context, jobID string) (int, error)

	// --- Chats / assistant messages ---
	ChatExists(ctx context.Context, chatID string) (bool, error)
	CreateAssistantMessage(ctx context.Context, msg AssistantMessage) error
	// AssistantMessageExists reports whether a job has already produced its
	// terminal assistant message, so a repeated finalize (e.g. a resumed
	// scheduler run racing a prior one) never inserts a duplicate.
	AssistantMessageExists(ctx context.Context, jobID string) (bool, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
