// Package sqlite implements bigcontext.Store using pure-Go SQLite. It is the
// single-node backend: a local file, one shared connection, good enough for
// a single scheduler process.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/bigcontext"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts. If
// not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements bigcontext.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ bigcontext.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a single
// shared connection pool with SetMaxOpenConns(1) so that all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused by
// concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_chunks INTEGER NOT NULL,
			completed_chunks INTEGER NOT NULL DEFAULT 0,
			instruction TEXT NOT NULL,
			model_id TEXT NOT NULL,
			enable_stitch_pass INTEGER NOT NULL DEFAULT 0,
			stitched_output TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
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
			cost REAL NOT NULL DEFAULT 0,
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
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}

	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job bigcontext.Job) error {
	start := time.Now()
	s.logger.Debug("sqlite: create job", "job_id", job.ID, "chat_id", job.ChatID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: create job: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (chat_id) VALUES (?) ON CONFLICT(chat_id) DO NOTHING`,
		job.ChatID); err != nil {
		s.logger.Error("sqlite: create job failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: create job: upsert chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ChatID, string(job.Status), job.TotalChunks, job.CompletedChunks, job.Instruction,
		job.ModelID, boolToInt(job.EnableStitchPass), job.StitchedOutput, job.CreatedAt, job.UpdatedAt); err != nil {
		s.logger.Error("sqlite: create job failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: create job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: create job: commit: %w", err)
	}
	s.logger.Debug("sqlite: create job done", "job_id", job.ID, "duration", time.Since(start))
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (bigcontext.Job, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	if err != nil {
		s.logger.Error("sqlite: get job failed", "error", err, "duration", time.Since(start))
		return bigcontext.Job{}, fmt.Errorf("sqlite: get job: %w", err)
	}
	s.logger.Debug("sqlite: get job done", "job_id", id, "duration", time.Since(start))
	return job, nil
}

func (s *Store) GetActiveJob(ctx context.Context, chatID string) (bigcontext.Job, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs
		 WHERE chat_id = ? AND status NOT IN ('completed', 'failed', 'cancelled')
		 ORDER BY created_at DESC LIMIT 1`, chatID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	if err != nil {
		s.logger.Error("sqlite: get active job failed", "error", err, "duration", time.Since(start))
		return bigcontext.Job{}, fmt.Errorf("sqlite: get active job: %w", err)
	}
	s.logger.Debug("sqlite: get active job done", "chat_id", chatID, "duration", time.Since(start))
	return job, nil
}

// GetLatestJob returns the most recently created job for a chat regardless
// of status, for the fetch-document endpoint.
func (s *Store) GetLatestJob(ctx context.Context, chatID string) (bigcontext.Job, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs
		 WHERE chat_id = ?
		 ORDER BY created_at DESC LIMIT 1`, chatID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	if err != nil {
		s.logger.Error("sqlite: get latest job failed", "error", err, "duration", time.Since(start))
		return bigcontext.Job{}, fmt.Errorf("sqlite: get latest job: %w", err)
	}
	s.logger.Debug("sqlite: get latest job done", "chat_id", chatID, "duration", time.Since(start))
	return job, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id string, status bigcontext.JobStatus) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), bigcontext.NowUnix(), id)
	if err != nil {
		s.logger.Error("sqlite: update job status failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	s.logger.Debug("sqlite: update job status done", "job_id", id, "status", status, "duration", time.Since(start))
	return nil
}

// IncrementCompletedChunks atomically adds delta to completed_chunks in a
// single UPDATE statement, then rereads the row, so concurrent chunk
// completions never race on a read-modify-write round trip.
func (s *Store) IncrementCompletedChunks(ctx context.Context, id string, delta int) (bigcontext.Job, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("sqlite: increment completed chunks: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET completed_chunks = completed_chunks + ?, updated_at = ? WHERE id = ?`,
		delta, bigcontext.NowUnix(), id)
	if err != nil {
		s.logger.Error("sqlite: increment completed chunks failed", "error", err, "duration", time.Since(start))
		return bigcontext.Job{}, fmt.Errorf("sqlite: increment completed chunks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id,
			enable_stitch_pass, stitched_output, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return bigcontext.Job{}, fmt.Errorf("sqlite: increment completed chunks: reread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return bigcontext.Job{}, fmt.Errorf("sqlite: increment completed chunks: commit: %w", err)
	}
	s.logger.Debug("sqlite: increment completed chunks done", "job_id", id, "delta", delta, "duration", time.Since(start))
	return job, nil
}

// SetJobTerminal atomically writes the job's final status and stitched
// output in one statement.
func (s *Store) SetJobTerminal(ctx context.Context, id string, status bigcontext.JobStatus, stitchedOutput *string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stitched_output = ?, updated_at = ? WHERE id = ?`,
		string(status), stitchedOutput, bigcontext.NowUnix(), id)
	if err != nil {
		s.logger.Error("sqlite: set job terminal failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: set job terminal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	s.logger.Debug("sqlite: set job terminal done", "job_id", id, "status", status, "duration", time.Since(start))
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
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: create chunks: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: create chunks: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.JobID, c.Index, c.InputText, c.OutputText,
			string(c.Status), c.Error, c.Tokens, c.Cost); err != nil {
			s.logger.Error("sqlite: create chunks failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("sqlite: create chunks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: create chunks: commit: %w", err)
	}
	s.logger.Debug("sqlite: create chunks done", "job_id", chunks[0].JobID, "count", len(chunks), "duration", time.Since(start))
	return nil
}

func (s *Store) GetChunks(ctx context.Context, jobID string) ([]bigcontext.Chunk, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost
		 FROM chunks WHERE job_id = ? ORDER BY chunk_index ASC`, jobID)
	if err != nil {
		s.logger.Error("sqlite: get chunks failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: get chunks: %w", err)
	}
	defer rows.Close()

	var out []bigcontext.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate chunks: %w", err)
	}
	s.logger.Debug("sqlite: get chunks done", "job_id", jobID, "count", len(out), "duration", time.Since(start))
	return out, nil
}

func (s *Store) GetChunk(ctx context.Context, jobID string, index int) (bigcontext.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, chunk_index, input_text, output_text, status, error, tokens, cost
		 FROM chunks WHERE job_id = ? AND chunk_index = ?`, jobID, index)
	c, err := scanChunkRow(row)
	if err == sql.ErrNoRows {
		return bigcontext.Chunk{}, &bigcontext.ErrNotFound{Kind: "chunk", ID: jobID}
	}
	if err != nil {
		return bigcontext.Chunk{}, fmt.Errorf("sqlite: get chunk: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateChunk(ctx context.Context, chunk bigcontext.Chunk) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET output_text = ?, status = ?, error = ?, tokens = ?, cost = ?
		 WHERE job_id = ? AND chunk_index = ?`,
		chunk.OutputText, string(chunk.Status), chunk.Error, chunk.Tokens, chunk.Cost,
		chunk.JobID, chunk.Index)
	if err != nil {
		s.logger.Error("sqlite: update chunk failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: update chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bigcontext.ErrNotFound{Kind: "chunk", ID: chunk.JobID}
	}
	s.logger.Debug("sqlite: update chunk done", "job_id", chunk.JobID, "index", chunk.Index, "duration", time.Since(start))
	return nil
}

func (s *Store) ResetFailedChunks(ctx context.Context, jobID string) (int, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET status = ?, error = NULL WHERE job_id = ? AND status = ?`,
		string(bigcontext.ChunkPending), jobID, string(bigcontext.ChunkFailed))
	if err != nil {
		s.logger.Error("sqlite: reset failed chunks failed", "error", err, "duration", time.Since(start))
		return 0, fmt.Errorf("sqlite: reset failed chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reset failed chunks: rows affected: %w", err)
	}
	s.logger.Debug("sqlite: reset failed chunks done", "job_id", jobID, "count", n, "duration", time.Since(start))
	return int(n), nil
}

// --- Chats / assistant messages ---

func (s *Store) ChatExists(ctx context.Context, chatID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE chat_id = ?`, chatID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: chat exists: %w", err)
	}
	return true, nil
}

func (s *Store) CreateAssistantMessage(ctx context.Context, msg bigcontext.AssistantMessage) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistant_messages (id, chat_id, job_id, role, content, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		msg.ID, msg.ChatID, msg.JobID, msg.Role, msg.Content, msg.Summary, msg.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: create assistant message failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: create assistant message: %w", err)
	}
	s.logger.Debug("sqlite: create assistant message done", "job_id", msg.JobID, "duration", time.Since(start))
	return nil
}

func (s *Store) AssistantMessageExists(ctx context.Context, jobID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM assistant_messages WHERE job_id = ?`, jobID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: assistant message exists: %w", err)
	}
	return true, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (bigcontext.Job, error) {
	var j bigcontext.Job
	var status string
	var enableStitch int
	err := row.Scan(&j.ID, &j.ChatID, &status, &j.TotalChunks, &j.CompletedChunks, &j.Instruction,
		&j.ModelID, &enableStitch, &j.StitchedOutput, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return bigcontext.Job{}, err
	}
	j.Status = bigcontext.JobStatus(status)
	j.EnableStitchPass = enableStitch != 0
	return j, nil
}

func scanChunk(row rowScanner) (bigcontext.Chunk, error) {
	return scanChunkRow(row)
}

func scanChunkRow(row rowScanner) (bigcontext.Chunk, error) {
	var c bigcontext.Chunk
	var status string
	err := row.Scan(&c.ID, &c.JobID, &c.Index, &c.InputText, &c.OutputText, &status, &c.Error, &c.Tokens, &c.Cost)
	if err != nil {
		return bigcontext.Chunk{}, err
	}
	c.Status = bigcontext.ChunkStatus(status)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
