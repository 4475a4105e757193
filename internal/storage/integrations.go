package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataops/strata/internal/model"
)

// GetIntegration retrieves one provider integration row.
func (db *DB) GetIntegration(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) (*model.Integration, error) {
	var in model.Integration
	err := db.pool.QueryRow(ctx,
		`SELECT scope, scope_id, provider_key, config, is_enabled, secret_ref, secret_configured_at, updated_at
		 FROM integrations WHERE scope = $1 AND scope_id = $2 AND provider_key = $3`,
		scope, scopeID, providerKey,
	).Scan(&in.Scope, &in.ScopeID, &in.ProviderKey, &in.Config, &in.IsEnabled,
		&in.SecretRef, &in.SecretConfiguredAt, &in.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get integration: %w", err)
	}
	return &in, nil
}

// SetIntegrationEnabled flips the enabled flag on an integration row,
// creating the row if the provider has never been configured.
func (db *DB) SetIntegrationEnabled(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string, enabled bool) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO integrations (scope, scope_id, provider_key, is_enabled, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (scope, scope_id, provider_key)
		 DO UPDATE SET is_enabled = $4, updated_at = now()`,
		scope, scopeID, providerKey, enabled,
	)
	if err != nil {
		return fmt.Errorf("storage: set integration enabled: %w", err)
	}
	return nil
}
