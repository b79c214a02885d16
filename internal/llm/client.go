// Package llm provides the text-completion capability used for intent
// classification, optional re-ranking, and response generation. All use sites
// must tolerate the capability being unavailable.
package llm

import (
	"context"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64

	// Use identifies the pipeline stage issuing the request. It is a
	// metric label, not part of the wire request.
	Use string
}

// Use label values.
const (
	UseClassify = "classify"
	UseRerank   = "rerank"
	UseGenerate = "generate"
)

func requestUse(req *CompletionRequest) string {
	if req.Use == "" {
		return "other"
	}
	return req.Use
}

// ChatMessage represents a chat message for the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Embedder turns free text into vectors for the semantic index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderDeepSeek  Provider = "deepseek"
	ProviderAnthropic Provider = "anthropic"
)
