package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataops/strata/internal/model"
)

// SetSecrets upserts a batch of encrypted secret values for one provider
// under one scope, then stamps the integration row's secret_ref. The whole
// write is one transaction so a failed stamp never leaves orphaned rows.
// Values must already be vault envelopes; this layer never sees plaintext.
func (db *DB) SetSecrets(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string, encrypted map[string]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin set secrets: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for key, value := range encrypted {
		if _, err := tx.Exec(ctx,
			`INSERT INTO encrypted_secrets (scope, scope_id, provider_key, secret_key, encrypted_value, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (scope, scope_id, provider_key, secret_key)
			 DO UPDATE SET encrypted_value = $5, updated_at = $6`,
			scope, scopeID, providerKey, key, value, now,
		); err != nil {
			return fmt.Errorf("storage: upsert secret %s: %w", key, err)
		}
	}

	ref := model.SecretRef(scope, scopeID, providerKey)
	if _, err := tx.Exec(ctx,
		`INSERT INTO integrations (scope, scope_id, provider_key, is_enabled, secret_ref, secret_configured_at, updated_at)
		 VALUES ($1, $2, $3, false, $4, $5, $5)
		 ON CONFLICT (scope, scope_id, provider_key)
		 DO UPDATE SET secret_ref = $4, secret_configured_at = $5, updated_at = $5`,
		scope, scopeID, providerKey, ref, now,
	); err != nil {
		return fmt.Errorf("storage: stamp secret ref: %w", err)
	}

	return tx.Commit(ctx)
}

// GetSecret retrieves one encrypted secret value.
func (db *DB) GetSecret(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey, secretKey string) (*model.EncryptedSecret, error) {
	var s model.EncryptedSecret
	err := db.pool.QueryRow(ctx,
		`SELECT scope, scope_id, provider_key, secret_key, encrypted_value, updated_at
		 FROM encrypted_secrets
		 WHERE scope = $1 AND scope_id = $2 AND provider_key = $3 AND secret_key = $4`,
		scope, scopeID, providerKey, secretKey,
	).Scan(&s.Scope, &s.ScopeID, &s.ProviderKey, &s.SecretKey, &s.EncryptedValue, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get secret: %w", err)
	}
	return &s, nil
}

// ListSecretKeys returns the configured key names for a provider under a
// scope, ordered by key. Values are never included.
func (db *DB) ListSecretKeys(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) ([]model.SecretKeyStatus, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT secret_key, updated_at FROM encrypted_secrets
		 WHERE scope = $1 AND scope_id = $2 AND provider_key = $3
		 ORDER BY secret_key`,
		scope, scopeID, providerKey,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list secret keys: %w", err)
	}
	defer rows.Close()

	var keys []model.SecretKeyStatus
	for rows.Next() {
		var k model.SecretKeyStatus
		if err := rows.Scan(&k.SecretKey, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan secret key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteSecrets removes all secret rows for a provider under a scope and
// clears the integration's secret_ref, in one transaction. Returns the
// number of secret rows removed.
func (db *DB) DeleteSecrets(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin delete secrets: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM encrypted_secrets
		 WHERE scope = $1 AND scope_id = $2 AND provider_key = $3`,
		scope, scopeID, providerKey,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: delete secrets: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE integrations SET secret_ref = NULL, secret_configured_at = NULL, updated_at = $4
		 WHERE scope = $1 AND scope_id = $2 AND provider_key = $3`,
		scope, scopeID, providerKey, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("storage: clear secret ref: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit delete secrets: %w", err)
	}
	return tag.RowsAffected(), nil
}
