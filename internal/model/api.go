package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request limits. These bound caller-controlled input before any storage
// or upstream work happens.
const (
	MaxIngestSources  = 25
	MaxUserPromptLen  = 64 * 1024  // 64 KB
	MaxContextLen     = 128 * 1024 // 128 KB
	MaxSourceContent  = 1 << 20    // 1 MB per source
	MaxSourceTableLen = 128
	MaxSourceIDLen    = 256
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeFeatureDisabled = "FEATURE_DISABLED"
	ErrCodeBudgetExceeded  = "BUDGET_EXCEEDED"
	ErrCodeUpstreamError   = "UPSTREAM_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// CompletionRequest is the request body for POST /v1/ai/completions.
type CompletionRequest struct {
	CompanyID       uuid.UUID  `json:"company_id"`
	TaskType        FeatureKey `json:"task_type"`
	UserPrompt      string     `json:"user_prompt"`
	Context         string     `json:"context,omitempty"`
	Model           string     `json:"model,omitempty"`
	Temperature     *float64   `json:"temperature,omitempty"`
	MaxOutputTokens *int       `json:"max_output_tokens,omitempty"`
}

// Validate checks the completion request before any authorization or
// storage work runs. Unknown task types are rejected here, before the
// feature gate.
func (r CompletionRequest) Validate() error {
	if r.CompanyID == uuid.Nil {
		return fmt.Errorf("company_id is required")
	}
	if !CompletionTaskTypes[r.TaskType] {
		return fmt.Errorf("unsupported task_type: %q", r.TaskType)
	}
	if r.UserPrompt == "" {
		return fmt.Errorf("user_prompt is required")
	}
	if len(r.UserPrompt) > MaxUserPromptLen {
		return fmt.Errorf("user_prompt exceeds maximum length of %d bytes", MaxUserPromptLen)
	}
	if len(r.Context) > MaxContextLen {
		return fmt.Errorf("context exceeds maximum length of %d bytes", MaxContextLen)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// CompletionUsage reports token consumption for a completion response.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the response for POST /v1/ai/completions.
type CompletionResponse struct {
	RequestID  string          `json:"request_id"`
	Model      string          `json:"model"`
	OutputText string          `json:"output_text"`
	Usage      CompletionUsage `json:"usage"`
}

// IngestSource is one document to chunk and embed.
type IngestSource struct {
	SourceTable     string         `json:"source_table"`
	SourceID        string         `json:"source_id"`
	SourceVersion   *string        `json:"source_version,omitempty"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ReplaceExisting *bool          `json:"replace_existing,omitempty"` // default true
}

// Replace reports whether existing chunks for this source should be
// deleted before insertion. Defaults to true: re-ingestion replaces the
// document wholesale.
func (s IngestSource) Replace() bool {
	return s.ReplaceExisting == nil || *s.ReplaceExisting
}

// EmbeddingRequest is the request body for POST /v1/ai/embeddings.
type EmbeddingRequest struct {
	CompanyID         uuid.UUID      `json:"company_id"`
	Sources           []IngestSource `json:"sources"`
	EmbeddingModel    string         `json:"embedding_model,omitempty"`
	ChunkSizeChars    int            `json:"chunk_size_chars,omitempty"`
	ChunkOverlapChars int            `json:"chunk_overlap_chars,omitempty"`
}

// Validate checks the ingestion request. The source-count ceiling is
// enforced here so an oversized batch fails before any upstream call.
func (r EmbeddingRequest) Validate() error {
	if r.CompanyID == uuid.Nil {
		return fmt.Errorf("company_id is required")
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	if len(r.Sources) > MaxIngestSources {
		return fmt.Errorf("too many sources: %d (max %d)", len(r.Sources), MaxIngestSources)
	}
	for i, s := range r.Sources {
		if s.SourceTable == "" || len(s.SourceTable) > MaxSourceTableLen {
			return fmt.Errorf("sources[%d].source_table must be 1-%d characters", i, MaxSourceTableLen)
		}
		if s.SourceID == "" || len(s.SourceID) > MaxSourceIDLen {
			return fmt.Errorf("sources[%d].source_id must be 1-%d characters", i, MaxSourceIDLen)
		}
		if len(s.Content) > MaxSourceContent {
			return fmt.Errorf("sources[%d].content exceeds maximum size of %d bytes", i, MaxSourceContent)
		}
	}
	return nil
}

// EmbeddingUsage reports token consumption for an ingestion response.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse is the response for POST /v1/ai/embeddings.
type EmbeddingResponse struct {
	RequestID          string         `json:"request_id"`
	Model              string         `json:"model"`
	SourceCount        int            `json:"source_count"`
	EmbeddedChunkCount int            `json:"embedded_chunk_count"`
	Usage              EmbeddingUsage `json:"usage"`
}

// SecretAction is an operation on the secret management endpoint.
type SecretAction string

// Secret actions.
const (
	SecretActionSet    SecretAction = "set"
	SecretActionCheck  SecretAction = "check"
	SecretActionDelete SecretAction = "delete"
)

// SecretRequest is the request body for POST /v1/integrations/secrets.
type SecretRequest struct {
	Action      SecretAction      `json:"action"`
	Scope       SecretScope       `json:"scope"`
	ScopeID     uuid.UUID         `json:"scope_id"`
	ProviderKey string            `json:"provider_key"`
	Secrets     map[string]string `json:"secrets,omitempty"`
}

// Validate checks the secret management request.
func (r SecretRequest) Validate() error {
	switch r.Action {
	case SecretActionSet, SecretActionCheck, SecretActionDelete:
	default:
		return fmt.Errorf("unsupported action: %q", r.Action)
	}
	if !ValidSecretScope(r.Scope) {
		return fmt.Errorf("unsupported scope: %q", r.Scope)
	}
	if r.ScopeID == uuid.Nil {
		return fmt.Errorf("scope_id is required")
	}
	if r.ProviderKey == "" {
		return fmt.Errorf("provider_key is required")
	}
	if r.Action == SecretActionSet {
		if len(r.Secrets) == 0 {
			return fmt.Errorf("secrets are required for action %q", SecretActionSet)
		}
		for k, v := range r.Secrets {
			if k == "" {
				return fmt.Errorf("secret keys must be non-empty")
			}
			if v == "" {
				return fmt.Errorf("secret %q must have a non-empty value", k)
			}
		}
	}
	return nil
}

// SecretKeyStatus reports one configured secret key, never its value.
type SecretKeyStatus struct {
	SecretKey string    `json:"secret_key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SecretCheckResponse is the response for the check action.
type SecretCheckResponse struct {
	ProviderKey string            `json:"provider_key"`
	Scope       SecretScope       `json:"scope"`
	ScopeID     uuid.UUID         `json:"scope_id"`
	Keys        []SecretKeyStatus `json:"keys"`
	IsEnabled   bool              `json:"is_enabled"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
