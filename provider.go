package bigcontext

import "context"

// RemoteClient abstracts the model backend the scheduler dispatches chunks
// to. A single call processes one chunk: messages already contain the
// bookended prompt the scheduler built for that chunk.
type RemoteClient interface {
	// Complete sends one chat-completion request and returns the model's
	// reply, its finish reason ("stop", "length", etc.), and token/cost
	// usage. maxTokens of 0 means "no explicit cap" — the provider's
	// default applies.
	Complete(ctx context.Context, modelID string, messages []ChatMessage, maxTokens int) (content string, finishReason string, usage Usage, err error)

	// Name identifies the backend for logging and telemetry ("openai",
	// "openrouter", etc.).
	Name() string
}

// CatalogSource fetches model metadata from wherever the provider's
// model-listing endpoint lives. Fetching the catalog is an external
// collaborator's concern; the engine only consumes it through this
// interface, cached by catalog.go.
type CatalogSource interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
