package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/nevindra/bigcontext"
)

// startRequest is the parsed body of POST /chunk-process.
type startRequest struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	Instruction      string `json:"instruction"`
	ModelID          string `json:"model_id"`
	EnableStitchPass bool   `json:"enable_stitch_pass"`
}

// startResponse is returned immediately once a job has been created and
// dispatch launched; the caller follows up on the stream endpoint for
// progress.
type startResponse struct {
	JobID string `json:"job_id"`
}

// estimateResponse previews what a start call would do, without creating a
// job or touching the store.
type estimateResponse struct {
	TotalChunks          int     `json:"total_chunks"`
	EstimatedInputTokens int     `json:"estimated_input_tokens"`
	EstimatedCost        float64 `json:"estimated_cost"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req startRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := validateStartRequest(req); err != nil {
		writeDomainError(w, err)
		return
	}

	model, err := s.deps.Models.Resolve(ctx, req.ModelID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	instructionTokens := bigcontext.EstimateTokens(req.Instruction)
	var maxOutput *int
	if model.MaxOutput > 0 {
		mo := model.MaxOutput
		maxOutput = &mo
	}
	budget := bigcontext.ComputeChunkBudget(model.ContextLength, instructionTokens, maxOutput)
	chunks := bigcontext.ChunkText(req.Text, budget)

	if parseBool(r.URL.Query().Get("estimate")) {
		s.writeEstimate(w, chunks, model)
		return
	}

	job := bigcontext.Job{
		ID:               bigcontext.NewID(),
		ChatID:           req.ChatID,
		Status:           bigcontext.JobProcessing,
		TotalChunks:      len(chunks),
		Instruction:      req.Instruction,
		ModelID:          req.ModelID,
		EnableStitchPass: req.EnableStitchPass,
		CreatedAt:        bigcontext.NowUnix(),
		UpdatedAt:        bigcontext.NowUnix(),
	}
	for i := range chunks {
		chunks[i].ID = bigcontext.NewID()
		chunks[i].JobID = job.ID
	}

	if err := s.deps.Store.CreateJob(ctx, job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Store.CreateChunks(ctx, chunks); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runInBackground(func(ctx context.Context) {
		if err := s.deps.Runner.Run(ctx, job.ID); err != nil {
			log.Printf("[server] job %s: run: %v", job.ID, err)
		}
	})

	writeJSON(w, http.StatusAccepted, startResponse{JobID: job.ID})
}

func (s *server) writeEstimate(w http.ResponseWriter, chunks []bigcontext.Chunk, model bigcontext.ModelInfo) {
	var totalTokens int
	for _, c := range chunks {
		totalTokens += bigcontext.EstimateTokens(c.InputText)
	}
	cost := float64(totalTokens) / 1_000_000 * model.InputPricePerMillion
	writeJSON(w, http.StatusOK, estimateResponse{
		TotalChunks:          len(chunks),
		EstimatedInputTokens: totalTokens,
		EstimatedCost:        cost,
	})
}

func validateStartRequest(req startRequest) error {
	switch {
	case strings.TrimSpace(req.ChatID) == "":
		return &bigcontext.ErrValidation{Field: "chat_id", Message: "required"}
	case strings.TrimSpace(req.Text) == "":
		return &bigcontext.ErrValidation{Field: "text", Message: "required"}
	case strings.TrimSpace(req.Instruction) == "":
		return &bigcontext.ErrValidation{Field: "instruction", Message: "required"}
	case strings.TrimSpace(req.ModelID) == "":
		return &bigcontext.ErrValidation{Field: "model_id", Message: "required"}
	}
	return nil
}

// routeJobSubpath dispatches everything under /chunk-process/{id}/....
func (s *server) routeJobSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/chunk-process/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	jobID, action := parts[0], parts[1]

	switch action {
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStream(w, r, jobID)
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCancel(w, r, jobID)
	case "retry":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleRetry(w, r, jobID)
	case "resume":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleResume(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	if _, err := s.deps.Store.GetJob(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Store.CancelJob(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	chunks, err := s.deps.Store.GetChunks(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, c := range chunks {
		if c.Status.Terminal() {
			continue
		}
		c.Status = bigcontext.ChunkCancelled
		if err := s.deps.Store.UpdateChunk(ctx, c); err != nil {
			log.Printf("[server] job %s: cancel chunk %d: %v", jobID, c.Index, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	job, err := s.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reset, err := s.deps.Store.ResetFailedChunks(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reset == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "reset_chunks": 0})
		return
	}

	if _, err := s.deps.Store.IncrementCompletedChunks(ctx, jobID, -reset); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status.Terminal() || job.Status == bigcontext.JobProcessing {
		if err := s.deps.Store.UpdateJobStatus(ctx, jobID, bigcontext.JobProcessing); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	runInBackground(func(ctx context.Context) {
		if err := s.deps.Runner.Run(ctx, jobID); err != nil {
			log.Printf("[server] job %s: retry run: %v", jobID, err)
		}
	})

	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "reset_chunks": reset})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	job, err := s.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "job is already in a terminal state")
		return
	}

	chunks, err := s.deps.Store.GetChunks(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var completedFromDB int
	for _, c := range chunks {
		if c.Status == bigcontext.ChunkProcessing {
			c.Status = bigcontext.ChunkPending
			if err := s.deps.Store.UpdateChunk(ctx, c); err != nil {
				log.Printf("[server] job %s: resume reset chunk %d: %v", jobID, c.Index, err)
			}
		}
		if c.Status == bigcontext.ChunkCompleted || c.Status == bigcontext.ChunkFailed {
			completedFromDB++
		}
	}

	if err := s.deps.Store.UpdateJobStatus(ctx, jobID, bigcontext.JobProcessing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if delta := completedFromDB - job.CompletedChunks; delta != 0 {
		if _, err := s.deps.Store.IncrementCompletedChunks(ctx, jobID, delta); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	runInBackground(func(ctx context.Context) {
		if err := s.deps.Runner.Run(ctx, jobID); err != nil {
			log.Printf("[server] job %s: resume run: %v", jobID, err)
		}
	})

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "resumed"})
}

// routeChatSubpath dispatches everything under /chats/{id}/....
func (s *server) routeChatSubpath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/chats/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	chatID, action := parts[0], parts[1]

	switch action {
	case "document":
		s.handleDocument(w, r, chatID)
	case "active-job":
		s.handleActiveJob(w, r, chatID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleDocument reassembles a chat's latest job's original document by
// concatenating its chunks' InputText in index order. No overlap removal —
// the user-visible document is exactly what was chunked.
func (s *server) handleDocument(w http.ResponseWriter, r *http.Request, chatID string) {
	ctx := r.Context()
	job, err := s.deps.Store.GetLatestJob(ctx, chatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	chunks, err := s.deps.Store.GetChunks(ctx, job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.InputText)
	}
	writeJSON(w, http.StatusOK, map[string]string{"chat_id": chatID, "document": b.String()})
}

func (s *server) handleActiveJob(w http.ResponseWriter, r *http.Request, chatID string) {
	job, err := s.deps.Store.GetActiveJob(r.Context(), chatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// parseBool parses a query-flag value the lenient way control endpoints
// accept ("true"/"1"), defaulting to false for anything else.
func parseBool(v string) bool {
	return v == "true" || v == "1"
}
