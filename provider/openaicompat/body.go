package openaicompat

import "github.com/nevindra/bigcontext"

// BuildBody converts a chunk's bigcontext.ChatMessages and a model name into
// an OpenAI-format ChatRequest, applying maxTokens and any functional
// options (temperature, top_p, etc.).
func BuildBody(messages []bigcontext.ChatMessage, model string, maxTokens int, opts ...Option) ChatRequest {
	msgs := make([]Message, len(messages))
	for i, m := range messages {
		msgs[i] = Message{Role: m.Role, Content: m.Content}
	}

	req := ChatRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}
