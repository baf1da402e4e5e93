package models

import "time"

// Message is one turn of the conversation handed to the vendor.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionRequest is the gateway's own request shape. Vendor-specific
// translation beyond this lives inside the vendor client variants.
type CompletionRequest struct {
	Messages    []Message `json:"messages" validate:"required,min=1"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

// Usage carries per-call token counts as the vendor reported them.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// CompletionResponse is the normalized result returned to callers.
type CompletionResponse struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Model        string    `json:"model"`
	Usage        Usage     `json:"usage"`
	FinishReason string    `json:"finish_reason"`
	CreatedAt    time.Time `json:"created_at"`
}
