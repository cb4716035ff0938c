package bigcontext

// --- Domain types (persisted records) ---

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobStitching  JobStatus = "stitching"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ChunkStatus is the lifecycle state of a Chunk.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
	ChunkCancelled  ChunkStatus = "cancelled"
)

// Terminal reports whether s is a terminal chunk status.
func (s ChunkStatus) Terminal() bool {
	switch s {
	case ChunkCompleted, ChunkFailed, ChunkCancelled:
		return true
	default:
		return false
	}
}

// Job is one big-context request: a (text, instruction, model) triple split
// into chunks, dispatched to the Remote Client, and reassembled.
type Job struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	Status           JobStatus `json:"status"`
	TotalChunks      int       `json:"total_chunks"`
	CompletedChunks  int       `json:"completed_chunks"`
	Instruction      string    `json:"instruction"`
	ModelID          string    `json:"model_id"`
	EnableStitchPass bool      `json:"enable_stitch_pass"`
	StitchedOutput   *string   `json:"stitched_output,omitempty"`
	CreatedAt        int64     `json:"created_at"`
	UpdatedAt        int64     `json:"updated_at"`
}

// Chunk is one unit of work: a slice of the job's input text and, once
// processed, the model's output for that slice.
type Chunk struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	Index      int         `json:"index"`
	InputText  string      `json:"input_text"`
	OutputText *string     `json:"output_text,omitempty"`
	Status     ChunkStatus `json:"status"`
	Error      *string     `json:"error,omitempty"`
	Tokens     int         `json:"tokens"`
	Cost       float64     `json:"cost"`
}

// AssistantMessage is the final artifact handed back to the enclosing chat.
// At most one is created per job.
type AssistantMessage struct {
	ID        string  `json:"id"`
	ChatID    string  `json:"chat_id"`
	JobID     string  `json:"job_id"`
	Role      string  `json:"role"` // always "assistant"
	Content   string  `json:"content"`
	Summary   *string `json:"summary,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// summaryLimit is the character cap applied to AssistantMessage.Summary.
const summaryLimit = 2000

// NewAssistantMessage builds the terminal artifact for a job: content is the
// stitched output (or a canned failure string), and Summary is populated
// with the first summaryLimit characters of content when content is long.
func NewAssistantMessage(chatID, jobID, content string) AssistantMessage {
	msg := AssistantMessage{
		ID:        NewID(),
		ChatID:    chatID,
		JobID:     jobID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: NowUnix(),
	}
	if len(content) > summaryLimit {
		runes := []rune(content)
		if len(runes) > summaryLimit {
			runes = runes[:summaryLimit]
		}
		summary := string(runes)
		msg.Summary = &summary
	}
	return msg
}

// FailurePrefix is prepended to the assistant message content when the
// scheduler's infrastructure fails outright, and when every chunk of a job
// failed.
const FailurePrefix = "[Big Context Processing Failed]"

// --- Model catalog ---

// ModelInfo describes the subset of model-catalog fields the engine consumes.
// Fetching the full catalog (name, free/paid flag, etc.) is an external
// collaborator's concern; the engine only needs these six fields.
type ModelInfo struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	ContextLength         int     `json:"context_length"`
	MaxOutput             int     `json:"max_output"`
	InputPricePerMillion  float64 `json:"input_price_per_million"`
	OutputPricePerMillion float64 `json:"output_price_per_million"`
}

// --- LLM protocol types ---

// ChatMessage is one message in a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a single chat-completion call: the messages sent to the
// Remote Client and an optional cap on generated tokens.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the Remote Client's reply to a ChatRequest.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage carries provider-reported token counts and, when the provider
// supports it, a computed cost in USD.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// --- ChatMessage constructors ---

func SystemMessage(text string) ChatMessage { return ChatMessage{Role: "system", Content: text} }
func UserMessage(text string) ChatMessage   { return ChatMessage{Role: "user", Content: text} }
func AssistantChatMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// --- Progress snapshot ---

// ChunkSnapshot is the per-chunk view carried in a JobSnapshot.
type ChunkSnapshot struct {
	Index  int         `json:"index"`
	Status ChunkStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// JobSnapshot is one point-in-time view of a job's progress, as emitted by
// the Progress Publisher. Aggregates are computed in-process from
// Chunks, never from a separate query, so a single snapshot is internally
// consistent.
type JobSnapshot struct {
	ID              string          `json:"id"`
	Status          JobStatus       `json:"status"`
	TotalChunks     int             `json:"total_chunks"`
	CompletedChunks int             `json:"completed_chunks"`
	Chunks          []ChunkSnapshot `json:"chunks"`
	TotalTokens     int             `json:"total_tokens"`
	TotalCost       float64         `json:"total_cost"`
	FailedChunks    int             `json:"failed_chunks"`
	StartedAt       int64           `json:"started_at"`
	UpdatedAt       int64           `json:"updated_at"`
	Model           string          `json:"model"`
	IsStale         bool            `json:"is_stale"`
	StaleDurationMs int64           `json:"stale_duration_ms,omitempty"`
	StitchedOutput  *string         `json:"stitched_output,omitempty"`
	Done            bool            `json:"done,omitempty"`
	Error           string          `json:"error,omitempty"`
}
