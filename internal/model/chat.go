package model

// ChatRequest is the request body for the chat endpoint.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// TurnDiagnostics reports how a turn was handled, including any degradations
// absorbed along the way. It is advisory metadata for callers and dashboards;
// a degraded turn is still a successful turn.
type TurnDiagnostics struct {
	Confidence         float64    `json:"confidence"`
	DegradedState      bool       `json:"degraded_state,omitempty"`
	FailedStrategies   []Strategy `json:"failed_strategies,omitempty"`
	NoResults          bool       `json:"no_results,omitempty"`
	ContextOmitted     bool       `json:"context_omitted,omitempty"`
	Reranked           bool       `json:"reranked,omitempty"`
	FallbackReply      bool       `json:"fallback_reply,omitempty"`
	ClassifierFallback bool       `json:"classifier_fallback,omitempty"`
	Entities           Entities   `json:"entities"`
	LatencyMs          int64      `json:"latency_ms"`
}

// TurnResult is the outcome of one pipeline execution.
type TurnResult struct {
	ThreadID        string          `json:"conversation_id"`
	Reply           string          `json:"message"`
	Intent          Intent          `json:"intent"`
	Recommendations []Candidate     `json:"recommended_parts"`
	Diagnostics     TurnDiagnostics `json:"metadata"`
}

// ChatResponse is the response body for the chat endpoint.
type ChatResponse struct {
	Message          string          `json:"message"`
	ConversationID   string          `json:"conversation_id"`
	Intent           Intent          `json:"intent"`
	RecommendedParts []Candidate     `json:"recommended_parts"`
	Metadata         TurnDiagnostics `json:"metadata"`
}
