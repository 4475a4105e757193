package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SecretScope is the ownership level a secret or integration is attached to.
type SecretScope string

// Secret scopes.
const (
	ScopeCompany SecretScope = "company"
	ScopeSite    SecretScope = "site"
)

// ValidSecretScope reports whether s is a known scope.
func ValidSecretScope(s SecretScope) bool {
	return s == ScopeCompany || s == ScopeSite
}

// EncryptedSecret is one encrypted provider credential. The value is a
// versioned vault envelope; plaintext is never persisted or returned.
// Uniqueness: (scope, scope_id, provider_key, secret_key).
type EncryptedSecret struct {
	Scope          SecretScope `json:"scope"`
	ScopeID        uuid.UUID   `json:"scope_id"`
	ProviderKey    string      `json:"provider_key"`
	SecretKey      string      `json:"secret_key"`
	EncryptedValue string      `json:"-"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Integration is a provider integration record for a scope. SecretRef is a
// derived pointer stamped whenever secrets are set and cleared on delete.
type Integration struct {
	Scope              SecretScope    `json:"scope"`
	ScopeID            uuid.UUID      `json:"scope_id"`
	ProviderKey        string         `json:"provider_key"`
	Config             map[string]any `json:"config,omitempty"`
	IsEnabled          bool           `json:"is_enabled"`
	SecretRef          *string        `json:"secret_ref,omitempty"`
	SecretConfiguredAt *time.Time     `json:"secret_configured_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SecretRef derives the integration's pointer to its secret rows.
func SecretRef(scope SecretScope, scopeID uuid.UUID, providerKey string) string {
	return fmt.Sprintf("%s:%s:%s", scope, scopeID, providerKey)
}
