package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataops/strata/internal/model"
)

// GetCompanyAISettings retrieves a company's AI settings row. A company
// with no row has never been enabled; callers treat ErrNotFound the same
// as ai_enabled = false.
func (db *DB) GetCompanyAISettings(ctx context.Context, companyID uuid.UUID) (*model.CompanyAISettings, error) {
	var s model.CompanyAISettings
	err := db.pool.QueryRow(ctx,
		`SELECT company_id, ai_enabled, allow_workflow_copilot, allow_template_copilot,
		 allow_insight_summary, allow_knowledge_indexing, max_prompt_tokens,
		 max_completion_tokens, daily_token_budget, monthly_token_budget
		 FROM company_ai_settings WHERE company_id = $1`, companyID,
	).Scan(
		&s.CompanyID, &s.AIEnabled, &s.AllowWorkflowCopilot, &s.AllowTemplateCopilot,
		&s.AllowInsightSummary, &s.AllowKnowledgeIndexing, &s.MaxPromptTokens,
		&s.MaxCompletionTokens, &s.DailyTokenBudget, &s.MonthlyTokenBudget,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get company ai settings: %w", err)
	}
	return &s, nil
}

// UpsertCompanyAISettings inserts or replaces a company's AI settings.
// The admin console owns writes; this exists for seeding and tests.
func (db *DB) UpsertCompanyAISettings(ctx context.Context, s model.CompanyAISettings) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO company_ai_settings (company_id, ai_enabled, allow_workflow_copilot,
		 allow_template_copilot, allow_insight_summary, allow_knowledge_indexing,
		 max_prompt_tokens, max_completion_tokens, daily_token_budget, monthly_token_budget)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (company_id) DO UPDATE SET
		 ai_enabled = $2, allow_workflow_copilot = $3, allow_template_copilot = $4,
		 allow_insight_summary = $5, allow_knowledge_indexing = $6, max_prompt_tokens = $7,
		 max_completion_tokens = $8, daily_token_budget = $9, monthly_token_budget = $10`,
		s.CompanyID, s.AIEnabled, s.AllowWorkflowCopilot, s.AllowTemplateCopilot,
		s.AllowInsightSummary, s.AllowKnowledgeIndexing, s.MaxPromptTokens,
		s.MaxCompletionTokens, s.DailyTokenBudget, s.MonthlyTokenBudget,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert company ai settings: %w", err)
	}
	return nil
}
