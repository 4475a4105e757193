package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strataops/strata/internal/model"
)

// InsertUsageEntry appends one ledger row. The ledger is append-only;
// there are no update or delete paths.
func (db *DB) InsertUsageEntry(ctx context.Context, e model.UsageEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ai_usage_log (request_id, company_id, user_id, provider_key, feature_key,
		 model, prompt_tokens, completion_tokens, total_tokens, latency_ms, status,
		 error_code, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.RequestID, e.CompanyID, e.UserID, e.ProviderKey, e.FeatureKey,
		e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.LatencyMs, e.Status,
		e.ErrorCode, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert usage entry: %w", err)
	}
	return nil
}

// SumTokensSince returns the company's total successful token spend from
// since (inclusive) to now. Blocked and errored rows carry no token counts
// and never contribute to the sum.
func (db *DB) SumTokensSince(ctx context.Context, companyID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM ai_usage_log
		 WHERE company_id = $1 AND status = $2 AND created_at >= $3`,
		companyID, model.UsageSuccess, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: sum tokens: %w", err)
	}
	return total, nil
}

// ListUsageEntries returns a company's recent ledger rows, newest first.
func (db *DB) ListUsageEntries(ctx context.Context, companyID uuid.UUID, limit int) ([]model.UsageEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT request_id, company_id, user_id, provider_key, feature_key, model,
		 prompt_tokens, completion_tokens, total_tokens, latency_ms, status,
		 error_code, metadata, created_at
		 FROM ai_usage_log WHERE company_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		companyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list usage entries: %w", err)
	}
	defer rows.Close()

	var entries []model.UsageEntry
	for rows.Next() {
		var e model.UsageEntry
		if err := rows.Scan(&e.RequestID, &e.CompanyID, &e.UserID, &e.ProviderKey,
			&e.FeatureKey, &e.Model, &e.PromptTokens, &e.CompletionTokens,
			&e.TotalTokens, &e.LatencyMs, &e.Status, &e.ErrorCode, &e.Metadata,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan usage entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
