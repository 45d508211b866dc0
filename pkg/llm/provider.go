package llm

import "context"

// Provider is a chat completion backend.
type Provider interface {
	// Complete sends the conversation and returns the model's full reply.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// JSONMode asks the backend to return a single JSON object.
	JSONMode bool
}
