package server

import (
	"errors"
	"net/http"

	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/storage"
)

// HandleSecrets handles POST /v1/integrations/secrets.
//
// One endpoint, three actions: set encrypts and upserts provider
// credentials, check reports which key names are configured (never
// values), delete removes the provider's secrets and clears the
// integration's secret_ref. Company-scoped operations need a company
// admin or a site-level role; site-scoped operations need a site role.
func (h *Handlers) HandleSecrets(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	var req model.SecretRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	userID := claims.UserID()
	var allowed bool
	var err error
	switch req.Scope {
	case model.ScopeCompany:
		allowed, err = h.resolver.CanManageCompanySecrets(r.Context(), req.ScopeID, userID)
	case model.ScopeSite:
		allowed, err = h.resolver.CanManageSiteSecrets(r.Context(), req.ScopeID, userID)
	}
	if err != nil {
		// Deny on resolver failure rather than surfacing an internal error.
		h.logger.Warn("access resolution failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		allowed = false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "no permission to manage secrets for this scope")
		return
	}

	switch req.Action {
	case model.SecretActionSet:
		h.handleSecretSet(w, r, req)
	case model.SecretActionCheck:
		h.handleSecretCheck(w, r, req)
	case model.SecretActionDelete:
		h.handleSecretDelete(w, r, req)
	}
}

func (h *Handlers) handleSecretSet(w http.ResponseWriter, r *http.Request, req model.SecretRequest) {
	encrypted := make(map[string]string, len(req.Secrets))
	for key, value := range req.Secrets {
		envelope, err := h.codec.Encrypt(value)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		encrypted[key] = envelope
	}

	if err := h.store.SetSecrets(r.Context(), req.Scope, req.ScopeID, req.ProviderKey, encrypted); err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	h.logger.Info("secrets set",
		"scope", req.Scope, "scope_id", req.ScopeID,
		"provider_key", req.ProviderKey, "key_count", len(req.Secrets),
		"request_id", RequestIDFromContext(r.Context()))

	writeJSON(w, r, http.StatusOK, map[string]any{
		"provider_key": req.ProviderKey,
		"keys_set":     len(req.Secrets),
	})
}

func (h *Handlers) handleSecretCheck(w http.ResponseWriter, r *http.Request, req model.SecretRequest) {
	keys, err := h.store.ListSecretKeys(r.Context(), req.Scope, req.ScopeID, req.ProviderKey)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	isEnabled := false
	integration, err := h.store.GetIntegration(r.Context(), req.Scope, req.ScopeID, req.ProviderKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.writeMappedError(w, r, err)
		return
	}
	if integration != nil {
		isEnabled = integration.IsEnabled
	}

	writeJSON(w, r, http.StatusOK, model.SecretCheckResponse{
		ProviderKey: req.ProviderKey,
		Scope:       req.Scope,
		ScopeID:     req.ScopeID,
		Keys:        keys,
		IsEnabled:   isEnabled,
	})
}

func (h *Handlers) handleSecretDelete(w http.ResponseWriter, r *http.Request, req model.SecretRequest) {
	removed, err := h.store.DeleteSecrets(r.Context(), req.Scope, req.ScopeID, req.ProviderKey)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	h.logger.Info("secrets deleted",
		"scope", req.Scope, "scope_id", req.ScopeID,
		"provider_key", req.ProviderKey, "removed", removed,
		"request_id", RequestIDFromContext(r.Context()))

	writeJSON(w, r, http.StatusOK, map[string]any{
		"provider_key": req.ProviderKey,
		"keys_removed": removed,
	})
}
