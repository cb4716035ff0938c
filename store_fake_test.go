package bigcontext

import (
	"context"
	"sort"
	"sync"
)

// fakeStore is a minimal in-memory Store used by scheduler, runner, and
// publisher tests. It is not a model of any concurrency guarantees beyond a
// single per-store mutex — good enough to exercise ordering and
// idempotence, not throughput.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]Job
	chunks   map[string][]Chunk // jobID -> chunks
	messages map[string]AssistantMessage
	chats    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]Job),
		chunks:   make(map[string][]Chunk),
		messages: make(map[string]AssistantMessage),
		chats:    make(map[string]bool),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, job Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return Job{}, &ErrNotFound{Kind: "job", ID: id}
	}
	return j, nil
}

func (f *fakeStore) GetActiveJob(_ context.Context, chatID string) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best Job
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
		return Job{}, &ErrNotFound{Kind: "job", ID: chatID}
	}
	return best, nil
}

func (f *fakeStore) GetLatestJob(_ context.Context, chatID string) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best Job
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
		return Job{}, &ErrNotFound{Kind: "job", ID: chatID}
	}
	return best, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id string, status JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return &ErrNotFound{Kind: "job", ID: id}
	}
	j.Status = status
	f.jobs[id] = j
	return nil
}

func (f *fakeStore) IncrementCompletedChunks(_ context.Context, id string, delta int) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return Job{}, &ErrNotFound{Kind: "job", ID: id}
	}
	j.CompletedChunks += delta
	f.jobs[id] = j
	return j, nil
}

func (f *fakeStore) SetJobTerminal(_ context.Context, id string, status JobStatus, stitchedOutput *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return &ErrNotFound{Kind: "job", ID: id}
	}
	j.Status = status
	j.StitchedOutput = stitchedOutput
	f.jobs[id] = j
	return nil
}

func (f *fakeStore) CancelJob(_ context.Context, id string) error {
	return f.UpdateJobStatus(context.Background(), id, JobCancelled)
}

func (f *fakeStore) CreateChunks(_ context.Context, chunks []Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	f.chunks[chunks[0].JobID] = append([]Chunk(nil), chunks...)
	return nil
}

func (f *fakeStore) GetChunks(_ context.Context, jobID string) ([]Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]Chunk(nil), f.chunks[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) GetChunk(_ context.Context, jobID string, index int) (Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks[jobID] {
		if c.Index == index {
			return c, nil
		}
	}
	return Chunk{}, &ErrNotFound{Kind: "chunk", ID: jobID}
}

func (f *fakeStore) UpdateChunk(_ context.Context, chunk Chunk) error {
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
		if c.Status == ChunkFailed {
			c.Status = ChunkPending
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

func (f *fakeStore) CreateAssistantMessage(_ context.Context, msg AssistantMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

var _ Store = (*fakeStore)(nil)
