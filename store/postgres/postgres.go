// Package postgres implements bigcontext.Store using PostgreSQL. It is the
// multi-node backend: every scheduler process in a deployment shares one
// database, so IncrementCompletedChunks and SetJobTerminal must be single
// atomic statements rather than read-modify-write round trips.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/bigcontext"
)

// Store implements bigcontext.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ bigcontext.Store = (*Store)(nil)

// New creates a Store from a PostgreSQL DSN, opening and owning its own
// connection pool. Close releases the pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Init creates all required tables and indexes. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_chunks INTEGER NOT NULL,
			completed_chunks INTEGER NOT NULL DEFAULT 0,
			instruction TEXT NOT NULL,
			model_id TEXT NOT NULL,
			enable_stitch_pass BOOLEAN NOT NULL DEFAULT FALSE,
			stitched_output TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_chat_idx ON jobs(chat_id, status)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			input_text TEXT NOT NULL,
			output_text TEXT,
			status TEXT NOT NULL,
			error TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE(job_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_job_idx ON chunks(job_id)`,

		`CREATE TABLE IF NOT EXISTS assistant_messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			job_id TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job bigcontext.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: create job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, job.ChatID); err != nil {
		return fmt.Errorf("postgres: create job: upsert chat: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobs (id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.ChatID, string(job.Status), job.TotalChunks, job.CompletedChunks, job.Instruction,
		job.ModelID, job.EnableStitchPass, job.StitchedOutput, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: create job: commit: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (bigcontext.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("postgres: get job: %w", err)
	}
	return job, nil
}

func (s *Store) GetActiveJob(ctx context.Context, chatID string) (bigcontext.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs
		 WHERE chat_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		 ORDER BY created_at DESC LIMIT 1`, chatID)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("postgres: get active job: %w", err)
	}
	return job, nil
}

// GetLatestJob returns the most recently created job for a chat regardless
// of status, for the fetch-document endpoint.
func (s *Store) GetLatestJob(ctx context.Context, chatID string) (bigcontext.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs
		 WHERE chat_id = $1
		 ORDER BY created_at DESC LIMIT 1`, chatID)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("postgres: get latest job: %w", err)
	}
	return job, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id string, status bigcontext.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), bigcontext.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("postgres: update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	return nil
}

// IncrementCompletedChunks atomically adds delta to completed_chunks and
// returns the updated row via UPDATE ... RETURNING, so concurrent chunk
// completions across scheduler processes never race on a read-modify-write.
func (s *Store) IncrementCompletedChunks(ctx context.Context, id string, delta int) (bigcontext.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET completed_chunks = completed_chunks + $1, updated_at = $2
		 WHERE id = $3
		 RETURNING id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at`,
		delta, bigcontext.NowUnix(), id)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("postgres: increment completed chunks: %w", err)
	}
	return job, nil
}

// SetJobTerminal atomically writes the job's final status and stitched
// output in one statement.
func (s *Store) SetJobTerminal(ctx context.Context, id string, status bigcontext.JobStatus, stitchedOutput *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, stitched_output = $2, updated_at = $3 WHERE id = $4`,
		string(status), stitchedOutput, bigcontext.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("postgres: set job terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	return nil
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	return s.UpdateJobStatus(ctx, id, bigcontext.JobCancelled)
}

// --- Chunks ---

func (s *Store) CreateChunks(ctx context.Context, chunks []bigcontext.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: create chunks: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.JobID, c.Index, c.InputText, c.OutputText, string(c.Status), c.Error, c.Tokens, c.Cost)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: create chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: create chunks: commit: %w", err)
	}
	return nil
}

func (s *Store) GetChunks(ctx context.Context, jobID string) ([]bigcontext.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost
		 FROM chunks WHERE job_id = $1 ORDER BY chunk_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunks: %w", err)
	}
	defer rows.Close()

	var out []bigcontext.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate chunks: %w", err)
	}
	return out, nil
}

func (s *Store) GetChunk(ctx context.Context, jobID string, index int) (bigcontext.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost
		 FROM chunks WHERE job_id = $1 AND chunk_index = $2`, jobID, index)
	c, err := scanChunk(row)
	if err == pgx.ErrNoRows {
		return bigcontext.Chunk{}, &bigcontext.ErrNotFound{Kind: "chunk", ID: jobID}
	}
	if err != nil {
		return bigcontext.Chunk{}, fmt.Errorf("postgres: get chunk: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateChunk(ctx context.Context, chunk bigcontext.Chunk) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET output_text = $1, status = $2, error = $3, tokens = $4, cost = $5
		 WHERE job_id = $6 AND chunk_index = $7`,
		chunk.OutputText, string(chunk.Status), chunk.Error, chunk.Tokens, chunk.Cost,
		chunk.JobID, chunk.Index)
	if err != nil {
		return fmt.Errorf("postgres: update chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &bigcontext.ErrNotFound{Kind: "chunk", ID: chunk.JobID}
	}
	return nil
}

func (s *Store) ResetFailedChunks(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET status = $1, error = NULL WHERE job_id = $2 AND status = $3`,
		string(bigcontext.ChunkPending), jobID, string(bigcontext.ChunkFailed))
	if err != nil {
		return 0, fmt.Errorf("postgres: reset failed chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Chats / assistant messages ---

func (s *Store) ChatExists(ctx context.Context, chatID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chats WHERE chat_id = $1)`, chatID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: chat exists: %w", err)
	}
	return exists, nil
}

func (s *Store) CreateAssistantMessage(ctx context.Context, msg bigcontext.AssistantMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assistant_messages (id, chat_id, job_id, role, content, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (job_id) DO NOTHING`,
		msg.ID, msg.ChatID, msg.JobID, msg.Role, msg.Content, msg.Summary, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create assistant message: %w", err)
	}
	return nil
}

func (s *Store) AssistantMessageExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM assistant_messages WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: assistant message exists: %w", err)
	}
	return exists, nil
}


// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (bigcontext.Job, error) {
	var j bigcontext.Job
	var status string
	err := row.Scan(&j.ID, &j.ChatID, &status, &j.TotalChunks, &j.CompletedChunks, &j.Instruction,
		&j.ModelID, &j.EnableStitchPass, &j.StitchedOutput, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return bigcontext.Job{}, err
	}
	j.Status = bigcontext.JobStatus(status)
	return j, nil
}

func scanChunk(row rowScanner) (bigcontext.Chunk, error) {
	var c bigcontext.Chunk
	var status string
	err := row.Scan(&c.ID, &c.JobID, &c.Index, &c.InputText, &c.OutputText, &status, &c.Error, &c.Tokens, &c.Cost)
	if err != nil {
		return bigcontext.Chunk{}, err
	}
	c.Status = bigcontext.ChunkStatus(status)
	return c, nil
}
