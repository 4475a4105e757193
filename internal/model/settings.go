package model

import "github.com/google/uuid"

// FeatureKey identifies an AI capability gated per company.
type FeatureKey string

// Capabilities. The first three are completion task types; knowledge
// indexing gates the embedding ingestion pipeline.
const (
	FeatureWorkflowCopilot   FeatureKey = "workflow_copilot"
	FeatureTemplateCopilot   FeatureKey = "template_copilot"
	FeatureInsightSummary    FeatureKey = "insight_summary"
	FeatureKnowledgeIndexing FeatureKey = "knowledge_indexing"
)

// CompletionTaskTypes is the set of task types the completion gateway accepts.
var CompletionTaskTypes = map[FeatureKey]bool{
	FeatureWorkflowCopilot: true,
	FeatureTemplateCopilot: true,
	FeatureInsightSummary:  true,
}

// CompanyAISettings holds a company's AI enablement, capability toggles,
// and token limits. Read-only from this subsystem's perspective: the admin
// console writes it, the gateways only load it. A budget of 0 means
// unlimited for that window.
type CompanyAISettings struct {
	CompanyID              uuid.UUID `json:"company_id"`
	AIEnabled              bool      `json:"ai_enabled"`
	AllowWorkflowCopilot   bool      `json:"allow_workflow_copilot"`
	AllowTemplateCopilot   bool      `json:"allow_template_copilot"`
	AllowInsightSummary    bool      `json:"allow_insight_summary"`
	AllowKnowledgeIndexing bool      `json:"allow_knowledge_indexing"`
	MaxPromptTokens        int       `json:"max_prompt_tokens"`
	MaxCompletionTokens    int       `json:"max_completion_tokens"`
	DailyTokenBudget       int64     `json:"daily_token_budget"`
	MonthlyTokenBudget     int64     `json:"monthly_token_budget"`
}

// Allows reports whether the per-capability toggle for key is on.
// It does not consider AIEnabled; the gate checks that first.
func (s CompanyAISettings) Allows(key FeatureKey) bool {
	switch key {
	case FeatureWorkflowCopilot:
		return s.AllowWorkflowCopilot
	case FeatureTemplateCopilot:
		return s.AllowTemplateCopilot
	case FeatureInsightSummary:
		return s.AllowInsightSummary
	case FeatureKnowledgeIndexing:
		return s.AllowKnowledgeIndexing
	default:
		return false
	}
}
