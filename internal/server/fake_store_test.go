package server

import (
	"context"
	"sort"
	"sync"

	"github.com/nevindra/bigcontext"
)

// fakeStore is a minimal in-memory bigcontext.Store for exercising the HTTP
// handlers without a real database, mirroring the engine's own package-level
// fakeStore test double.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]bigcontext.Job
	chunks   map[string][]bigcontext.Chunk
	messages map[string]bigcontext.AssistantMessage
	chats    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]bigcontext.Job),
		chunks:   make(map[string][]bigcontext.Chunk),
		messages: make(map[string]bigcontext.AssistantMessage),
		chats:    make(map[string]bool),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, job bigcontext.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	f.chats[job.ChatID] = true
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (bigcontext.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	return j, nil
}

func (f *fakeStore) GetActiveJob(_ context.Context, chatID string) (bigcontext.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best bigcontext.Job
	var found bool
	for _, j := range f.jobs {
		if j.ChatID != chatID || j.Status.Terminal() {
			continue
		}
		if !found || j.CreatedAt > best.CreatedAt {
			best, found = j, true
		}
	}
	if !found {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	return best, nil
}

func (f *fakeStore) GetLatestJob(_ context.Context, chatID string) (bigcontext.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best bigcontext.Job
	var found bool
	for _, j := range f.jobs {
		if j.ChatID != chatID {
			continue
		}
		if !found || j.CreatedAt > best.CreatedAt {
			best, found = j, true
		}
	}
	if !found {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: chatID}
	}
	return best, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id string, status bigcontext.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	j.Status = status
	f.jobs[id] = j
	return nil
}

func (f *fakeStore) IncrementCompletedChunks(_ context.Context, id string, delta int) (bigcontext.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return bigcontext.Job{}, &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	j.CompletedChunks += delta
	f.jobs[id] = j
	return j, nil
}

func (f *fakeStore) SetJobTerminal(_ context.Context, id string, status bigcontext.JobStatus, stitchedOutput *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return &bigcontext.ErrNotFound{Kind: "job", ID: id}
	}
	j.Status = status
	j.StitchedOutput = stitchedOutput
	f.jobs[id] = j
	return nil
}

func (f *fakeStore) CancelJob(ctx context.Context, id string) error {
	return f.UpdateJobStatus(ctx, id, bigcontext.JobCancelled)
}

func (f *fakeStore) CreateChunks(_ context.Context, chunks []bigcontext.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	f.chunks[chunks[0].JobID] = append([]bigcontext.Chunk(nil), chunks...)
	return nil
}

func (f *fakeStore) GetChunks(_ context.Context, jobID string) ([]bigcontext.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]bigcontext.Chunk(nil), f.chunks[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) GetChunk(_ context.Context, jobID string, index int) (bigcontext.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks[jobID] {
		if c.Index == index {
			return c, nil
		}
	}
	return bigcontext.Chunk{}, &bigcontext.ErrNotFound{Kind: "chunk", ID: jobID}
}

func (f *fakeStore) UpdateChunk(_ context.Context, chunk bigcontext.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.chunks[chunk.JobID]
	for i, c := range list {
		if c.Index == chunk.Index {
			list[i] = chunk
			return nil
		}
	}
	f.chunks[chunk.JobID] = append(list, chunk)
	return nil
}

func (f *fakeStore) ResetFailedChunks(_ context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	list := f.chunks[jobID]
	for i, c := range list {
		if c.Status == bigcontext.ChunkFailed {
			c.Status = bigcontext.ChunkPending
			c.Error = nil
			list[i] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ChatExists(_ context.Context, chatID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[chatID], nil
}

func (f *fakeStore) CreateAssistantMessage(_ context.Context, msg bigcontext.AssistantMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[msg.JobID]; ok {
		return nil
	}
	f.messages[msg.JobID] = msg
	return nil
}

func (f *fakeStore) AssistantMessageExists(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.messages[jobID]
	return ok, nil
}

func (f *fakeStore) Init(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

var _ bigcontext.Store = (*fakeStore)(nil)

// fakeModels is a static bigcontext.ModelResolver for handler tests.
type fakeModels struct {
	models map[string]bigcontext.ModelInfo
}

func (f fakeModels) Resolve(_ context.Context, modelID string) (bigcontext.ModelInfo, error) {
	m, ok := f.models[modelID]
	if !ok {
		return bigcontext.ModelInfo{}, &bigcontext.ErrNotFound{Kind: "model", ID: modelID}
	}
	return m, nil
}

var _ bigcontext.ModelResolver = fakeModels{}

// fakeRunner records which job IDs it was asked to run; it never actually
// dispatches chunks, since the handlers under test only care that Run was
// invoked with the right job ID.
type fakeRunner struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeRunner) Run(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, jobID)
	return nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

var _ Runner = (*fakeRunner)(nil)
