package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/strataops/strata/internal/budget"
	"github.com/strataops/strata/internal/gate"
	"github.com/strataops/strata/internal/llm"
	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/storage"
)

// HandleCompletion handles POST /v1/ai/completions.
//
// Pipeline: validate, authorize, feature gate, budget check, prompt
// assembly, upstream call. Exactly one usage row is recorded per request
// whatever the outcome; a failed row write never fails the request.
func (h *Handlers) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestIDFromContext(r.Context())

	entry := model.UsageEntry{
		RequestID:   requestID,
		ProviderKey: ProviderAnthropic,
	}
	defer func() { h.record(&entry, start) }()

	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		entry.Status, entry.ErrorCode = model.UsageBlocked, model.ErrCodeUnauthorized
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}
	userID := claims.UserID()
	entry.UserID = &userID

	var req model.CompletionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		entry.Status, entry.ErrorCode = model.UsageError, model.ErrCodeInvalidInput
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	entry.FeatureKey = string(req.TaskType)

	if err := req.Validate(); err != nil {
		entry.Status, entry.ErrorCode = model.UsageError, model.ErrCodeInvalidInput
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	entry.CompanyID = &req.CompanyID

	ok, err := h.resolver.CanUseCompany(r.Context(), req.CompanyID, userID)
	if err != nil {
		// Deny on resolver failure rather than surfacing an internal error.
		h.logger.Warn("access resolution failed", "error", err, "request_id", requestID)
		ok = false
	}
	if !ok {
		entry.Status, entry.ErrorCode = model.UsageBlocked, model.ErrCodeForbidden
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "no access to this company")
		return
	}

	settings, err := h.store.GetCompanyAISettings(r.Context(), req.CompanyID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		entry.Status, entry.ErrorCode = model.UsageError, h.writeMappedError(w, r, err)
		return
	}

	if err := gate.Check(settings, req.TaskType); err != nil {
		entry.Status, entry.ErrorCode = model.UsageBlocked, h.writeMappedError(w, r, err)
		return
	}

	assembled, err := h.assembler.Assemble(req, settings)
	if err != nil {
		entry.Status, entry.ErrorCode = model.UsageError, h.writeMappedError(w, r, err)
		return
	}

	if err := h.ledger.Check(r.Context(), req.CompanyID, *settings, int64(assembled.EstimatedTokens), time.Now()); err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			entry.Status = model.UsageBlocked
			entry.Metadata = map[string]any{
				"window":   string(exceeded.Window),
				"used":     exceeded.Used,
				"limit":    exceeded.Limit,
				"estimate": exceeded.Estimate,
			}
		} else {
			entry.Status = model.UsageError
		}
		entry.ErrorCode = h.writeMappedError(w, r, err)
		return
	}

	apiKey, err := h.resolveProviderAPIKey(r.Context(), req.CompanyID, ProviderAnthropic)
	if err != nil {
		if errors.Is(err, ErrSecretMissing) {
			entry.Status = model.UsageBlocked
		} else {
			entry.Status = model.UsageError
		}
		entry.ErrorCode = h.writeMappedError(w, r, err)
		return
	}

	maxTokens := 0
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}
	if settings.MaxCompletionTokens > 0 && (maxTokens <= 0 || maxTokens > settings.MaxCompletionTokens) {
		maxTokens = settings.MaxCompletionTokens
	}

	result, err := h.completions.Complete(r.Context(), apiKey, llm.CompletionInput{
		Model:       req.Model,
		System:      assembled.System,
		User:        assembled.User,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		// The raw provider payload always lands in the ledger row, even
		// when the API response withholds it.
		var upstream *llm.UpstreamError
		if errors.As(err, &upstream) {
			entry.Metadata = map[string]any{
				"upstream_status": upstream.Status,
				"upstream_body":   upstream.Body,
			}
		}
		entry.Status, entry.ErrorCode = model.UsageError, h.writeMappedError(w, r, err)
		return
	}

	total := result.PromptTokens + result.CompletionTokens
	entry.Status = model.UsageSuccess
	entry.Model = result.Model
	entry.PromptTokens = &result.PromptTokens
	entry.CompletionTokens = &result.CompletionTokens
	entry.TotalTokens = &total

	writeJSON(w, r, http.StatusOK, model.CompletionResponse{
		RequestID:  requestID,
		Model:      result.Model,
		OutputText: result.Text,
		Usage: model.CompletionUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      total,
		},
	})
}

// record finalizes and writes the usage row for one request.
func (h *Handlers) record(entry *model.UsageEntry, start time.Time) {
	if h.usageLog == nil {
		return
	}
	entry.LatencyMs = time.Since(start).Milliseconds()
	h.usageLog.Record(*entry)
}
