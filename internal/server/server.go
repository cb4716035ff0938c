// Package server exposes the engine's control surface as HTTP JSON
// endpoints: starting, cancelling, retrying, and resuming a job, streaming
// its progress over server-sent events, and reading the chat-facing
// document/active-job views.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/nevindra/bigcontext"
)

// Runner is the subset of *bigcontext.JobRunner the control surface needs.
// It is an interface rather than the concrete type so main.go can hand the
// server an observer-wrapped runner without the server package depending on
// the observability package.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Deps holds everything a handler needs. All fields are required.
type Deps struct {
	Store     bigcontext.Store
	Runner    Runner
	Publisher *bigcontext.Publisher
	Models    bigcontext.ModelResolver
}

// New builds the control-surface mux.
func New(deps Deps) *http.ServeMux {
	s := &server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("/chunk-process", method(http.MethodPost, s.handleStart))
	mux.HandleFunc("/chunk-process/", s.routeJobSubpath)
	mux.HandleFunc("/chats/", s.routeChatSubpath)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// NewHTTPServer wraps mux in an *http.Server with the teacher's timeout
// conventions for a long-lived control plane: generous read/write timeouts
// since a chunk-process job can run for minutes, a short idle timeout since
// clients reconnect rather than hold sockets open.
func NewHTTPServer(addr string, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}
}

type server struct {
	deps Deps
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

// runInBackground launches fn detached from the request's context, so a
// client disconnect never cancels a job still dispatching chunks.
func runInBackground(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[server] background task panic: %v", r)
			}
		}()
		fn(context.Background())
	}()
}
