package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageStatus is the terminal outcome of one AI request attempt.
type UsageStatus string

// Usage statuses.
const (
	UsageSuccess UsageStatus = "success"
	UsageBlocked UsageStatus = "blocked"
	UsageError   UsageStatus = "error"
)

// UsageEntry is one append-only ledger row. Exactly one row is written per
// request attempt regardless of outcome. Optional fields stay nil when the
// request failed before the corresponding context was resolved.
type UsageEntry struct {
	RequestID        string         `json:"request_id"`
	CompanyID        *uuid.UUID     `json:"company_id,omitempty"`
	UserID           *uuid.UUID     `json:"user_id,omitempty"`
	ProviderKey      string         `json:"provider_key,omitempty"`
	FeatureKey       string         `json:"feature_key,omitempty"`
	Model            string         `json:"model,omitempty"`
	PromptTokens     *int           `json:"prompt_tokens,omitempty"`
	CompletionTokens *int           `json:"completion_tokens,omitempty"`
	TotalTokens      *int           `json:"total_tokens,omitempty"`
	LatencyMs        int64          `json:"latency_ms"`
	Status           UsageStatus    `json:"status"`
	ErrorCode        string         `json:"error_code,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
