package models

import "time"

// CallOutcome is the accounting classification of one finished call.
type CallOutcome string

const (
	OutcomeSuccess        CallOutcome = "success"
	OutcomeRetryableError CallOutcome = "retryable_error"
	OutcomeTerminalError  CallOutcome = "terminal_error"
)

// UsageRecord is the structured record the gateway emits per call.
// Fire-and-forget: failures to persist one must never fail the call.
type UsageRecord struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	RequestID    string      `gorm:"index;size:64" json:"request_id"`
	ProviderCode string      `gorm:"index;size:64" json:"provider_code"`
	CredentialID uint        `gorm:"index" json:"credential_id"`
	CallerID     string      `gorm:"index;size:128" json:"caller_id,omitempty"`
	Model        string      `gorm:"size:128" json:"model,omitempty"`
	Outcome      CallOutcome `gorm:"size:20" json:"outcome"`
	ErrorKind    string      `gorm:"size:40" json:"error_kind,omitempty"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
