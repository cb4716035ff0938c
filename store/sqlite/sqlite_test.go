package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nevindra/bigcontext"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func newJob(id, chatID string) bigcontext.Job {
	now := bigcontext.NowUnix()
	return bigcontext.Job{
		ID:          id,
		ChatID:      chatID,
		Status:      bigcontext.JobPending,
		TotalChunks: 3,
		Instruction: "Summarize",
		ModelID:     "gpt-4o-mini",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ChatID != job.ChatID || got.TotalChunks != job.TotalChunks || got.ModelID != job.ModelID {
		t.Errorf("round-tripped job mismatch: %+v", got)
	}
	if got.Status != bigcontext.JobPending {
		t.Errorf("expected pending status, got %s", got.Status)
	}

	exists, err := s.ChatExists(ctx, "chat-1")
	if err != nil {
		t.Fatalf("ChatExists: %v", err)
	}
	if !exists {
		t.Error("expected chat to exist after CreateJob")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	var nf *bigcontext.ErrNotFound
	if err == nil {
		t.Fatal("expected error")
	}
	if !asErrNotFound(err, &nf) {
		t.Errorf("expected *bigcontext.ErrNotFound, got %T: %v", err, err)
	}
}

func asErrNotFound(err error, target **bigcontext.ErrNotFound) bool {
	nf, ok := err.(*bigcontext.ErrNotFound)
	if ok {
		*target = nf
	}
	return ok
}

func TestGetActiveJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := newJob(bigcontext.NewID(), "chat-2")
	old.Status = bigcontext.JobCompleted
	old.CreatedAt = 100
	if err := s.CreateJob(ctx, old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	active := newJob(bigcontext.NewID(), "chat-2")
	active.Status = bigcontext.JobProcessing
	active.CreatedAt = 200
	if err := s.CreateJob(ctx, active); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetActiveJob(ctx, "chat-2")
	if err != nil {
		t.Fatalf("GetActiveJob: %v", err)
	}
	if got.ID != active.ID {
		t.Errorf("expected active job %s, got %s", active.ID, got.ID)
	}
}

func TestGetActiveJobNoneFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-3")
	job.Status = bigcontext.JobCompleted
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err := s.GetActiveJob(ctx, "chat-3")
	if err == nil {
		t.Fatal("expected ErrNotFound when no active job exists")
	}
}

func TestIncrementCompletedChunks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-4")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.IncrementCompletedChunks(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("IncrementCompletedChunks: %v", err)
	}
	if got.CompletedChunks != 1 {
		t.Errorf("expected 1 completed chunk, got %d", got.CompletedChunks)
	}

	got, err = s.IncrementCompletedChunks(ctx, job.ID, 2)
	if err != nil {
		t.Fatalf("IncrementCompletedChunks: %v", err)
	}
	if got.CompletedChunks != 3 {
		t.Errorf("expected 3 completed chunks, got %d", got.CompletedChunks)
	}
}

func TestSetJobTerminal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-5")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	output := "stitched result"
	if err := s.SetJobTerminal(ctx, job.ID, bigcontext.JobCompleted, &output); err != nil {
		t.Fatalf("SetJobTerminal: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != bigcontext.JobCompleted {
		t.Errorf("expected completed status, got %s", got.Status)
	}
	if got.StitchedOutput == nil || *got.StitchedOutput != output {
		t.Errorf("expected stitched output %q, got %v", output, got.StitchedOutput)
	}
}

func TestCancelJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-6")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != bigcontext.JobCancelled {
		t.Errorf("expected cancelled status, got %s", got.Status)
	}
}

func TestChunkCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-7")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	chunks := []bigcontext.Chunk{
		{ID: bigcontext.NewID(), JobID: job.ID, Index: 0, InputText: "part 1", Status: bigcontext.ChunkPending},
		{ID: bigcontext.NewID(), JobID: job.ID, Index: 1, InputText: "part 2", Status: bigcontext.ChunkPending},
		{ID: bigcontext.NewID(), JobID: job.ID, Index: 2, InputText: "part 3", Status: bigcontext.ChunkPending},
	}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks: %v", err)
	}

	got, err := s.GetChunks(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("expected chunks ordered by index, got index %d at position %d", c.Index, i)
		}
	}

	output := "processed"
	updated := got[1]
	updated.Status = bigcontext.ChunkCompleted
	updated.OutputText = &output
	updated.Tokens = 42
	updated.Cost = 0.001
	if err := s.UpdateChunk(ctx, updated); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	c, err := s.GetChunk(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if c.Status != bigcontext.ChunkCompleted || c.OutputText == nil || *c.OutputText != output {
		t.Errorf("unexpected chunk after update: %+v", c)
	}
	if c.Tokens != 42 || c.Cost != 0.001 {
		t.Errorf("expected tokens/cost to round-trip, got %+v", c)
	}
}

func TestResetFailedChunks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-8")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	errMsg := "rate limited"
	chunks := []bigcontext.Chunk{
		{ID: bigcontext.NewID(), JobID: job.ID, Index: 0, InputText: "a", Status: bigcontext.ChunkFailed, Error: &errMsg},
		{ID: bigcontext.NewID(), JobID: job.ID, Index: 1, InputText: "b", Status: bigcontext.ChunkCompleted},
	}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks: %v", err)
	}

	n, err := s.ResetFailedChunks(ctx, job.ID)
	if err != nil {
		t.Fatalf("ResetFailedChunks: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 chunk reset, got %d", n)
	}

	c, err := s.GetChunk(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if c.Status != bigcontext.ChunkPending || c.Error != nil {
		t.Errorf("expected chunk reset to pending with no error, got %+v", c)
	}
}

func TestAssistantMessageLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := newJob(bigcontext.NewID(), "chat-9")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	exists, err := s.AssistantMessageExists(ctx, job.ID)
	if err != nil {
		t.Fatalf("AssistantMessageExists: %v", err)
	}
	if exists {
		t.Fatal("expected no assistant message before creation")
	}

	msg := bigcontext.NewAssistantMessage(job.ChatID, job.ID, "final output")
	if err := s.CreateAssistantMessage(ctx, msg); err != nil {
		t.Fatalf("CreateAssistantMessage: %v", err)
	}

	// A repeated finalize must not error or duplicate the row.
	if err := s.CreateAssistantMessage(ctx, msg); err != nil {
		t.Fatalf("second CreateAssistantMessage: %v", err)
	}

	exists, err = s.AssistantMessageExists(ctx, job.ID)
	if err != nil {
		t.Fatalf("AssistantMessageExists: %v", err)
	}
	if !exists {
		t.Error("expected assistant message to exist after creation")
	}
}

func TestGetLatestJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := newJob(bigcontext.NewID(), "chat-10")
	older.Status = bigcontext.JobCompleted
	older.CreatedAt = 100
	if err := s.CreateJob(ctx, older); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	newer := newJob(bigcontext.NewID(), "chat-10")
	newer.Status = bigcontext.JobCompleted
	newer.CreatedAt = 200
	if err := s.CreateJob(ctx, newer); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// GetLatestJob ignores status entirely, unlike GetActiveJob — both jobs
	// here are already terminal.
	got, err := s.GetLatestJob(ctx, "chat-10")
	if err != nil {
		t.Fatalf("GetLatestJob: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("expected latest job %s, got %s", newer.ID, got.ID)
	}
}

func TestGetLatestJobNoneFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetLatestJob(context.Background(), "chat-unseen")
	var nf *bigcontext.ErrNotFound
	if !asErrNotFound(err, &nf) {
		t.Errorf("expected *bigcontext.ErrNotFound, got %T: %v", err, err)
	}
}
