package openaicompat

import "github.com/nevindra/bigcontext"

// ParseResponse extracts content, finish reason, and usage from an
// OpenAI-format ChatResponse's first choice.
func ParseResponse(resp ChatResponse) (content string, finishReason string, usage bigcontext.Usage) {
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finishReason = choice.FinishReason
		if choice.Message != nil {
			content = choice.Message.Content
		}
	}

	if resp.Usage != nil {
		usage = bigcontext.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return content, finishReason, usage
}
