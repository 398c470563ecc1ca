// Package llm wraps the completion providers behind one budget-gated gateway.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a provider-neutral message; system entries are folded into
// the provider's system prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Total returns TotalTokens, or the sum of input and output when a provider
// leaves it empty.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return int(u.TotalTokens)
	}
	return int(u.InputTokens + u.OutputTokens)
}

type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is a single completion provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Response, error)
}

// OfflineClient stands in when no provider is configured. Every call fails
// at once so callers take their keyword and template fallbacks.
type OfflineClient struct{}

func (OfflineClient) Complete(context.Context, Request) (Response, error) {
	return Response{}, ErrNoProvider
}
