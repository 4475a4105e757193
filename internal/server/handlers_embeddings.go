package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/strataops/strata/internal/budget"
	"github.com/strataops/strata/internal/chunk"
	"github.com/strataops/strata/internal/gate"
	"github.com/strataops/strata/internal/llm"
	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/storage"
)

// sourcePlan is one source's chunking result, carrying the offsets of its
// chunk texts within the flattened embedding input.
type sourcePlan struct {
	source model.IngestSource
	chunks []string
	first  int // index of this source's first chunk in the flat text slice
}

// HandleEmbeddings handles POST /v1/ai/embeddings.
//
// Sources are chunked locally, embedded upstream in batches, and persisted
// per source: wholesale replace by default, incremental upsert on opt-out.
// The source-count ceiling and all validation run before any upstream call.
func (h *Handlers) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestIDFromContext(r.Context())

	entry := model.UsageEntry{
		RequestID:   requestID,
		ProviderKey: ProviderOpenAI,
		FeatureKey:  string(model.FeatureKnowledgeIndexing),
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

	var req model.EmbeddingRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		entry.Status, entry.ErrorCode = model.UsageError, model.ErrCodeInvalidInput
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
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

	if err := gate.Check(settings, model.FeatureKnowledgeIndexing); err != nil {
		entry.Status, entry.ErrorCode = model.UsageBlocked, h.writeMappedError(w, r, err)
		return
	}

	size := chunk.ClampSize(req.ChunkSizeChars)
	overlap := chunk.ClampOverlap(req.ChunkOverlapChars, size)

	plans := make([]sourcePlan, 0, len(req.Sources))
	var texts []string
	estimate := int64(0)
	for _, src := range req.Sources {
		pieces := chunk.Split(chunk.Normalize(src.Content), size, overlap)
		plans = append(plans, sourcePlan{source: src, chunks: pieces, first: len(texts)})
		texts = append(texts, pieces...)
		for _, p := range pieces {
			estimate += int64(budget.EstimateTokens(p))
		}
	}

	if len(texts) == 0 {
		entry.Status, entry.ErrorCode = model.UsageError, model.ErrCodeInvalidInput
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "no embeddable content in any source")
		return
	}

	if err := h.ledger.Check(r.Context(), req.CompanyID, *settings, estimate, time.Now()); err != nil {
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

	apiKey, err := h.resolveProviderAPIKey(r.Context(), req.CompanyID, ProviderOpenAI)
	if err != nil {
		if errors.Is(err, ErrSecretMissing) {
			entry.Status = model.UsageBlocked
		} else {
			entry.Status = model.UsageError
		}
		entry.ErrorCode = h.writeMappedError(w, r, err)
		return
	}

	embedModel := req.EmbeddingModel
	if embedModel == "" {
		embedModel = h.embeddingModel
	}

	vecs, embedUsage, err := h.embeddings.EmbedAll(r.Context(), apiKey, embedModel, texts)
	if err != nil {
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

	embeddedAt := time.Now().UTC()
	for _, plan := range plans {
		rows := make([]model.DocumentChunk, len(plan.chunks))
		for i, content := range plan.chunks {
			rows[i] = model.DocumentChunk{
				CompanyID:      req.CompanyID,
				SourceTable:    plan.source.SourceTable,
				SourceID:       plan.source.SourceID,
				SourceVersion:  plan.source.SourceVersion,
				ChunkIndex:     i,
				Content:        content,
				TokenCount:     budget.EstimateTokens(content),
				Metadata:       plan.source.Metadata,
				Embedding:      vecs[plan.first+i],
				EmbeddingModel: embedModel,
				EmbeddedAt:     embeddedAt,
			}
		}

		if plan.source.Replace() {
			err = h.store.ReplaceSourceChunks(r.Context(), req.CompanyID,
				plan.source.SourceTable, plan.source.SourceID, rows)
		} else {
			err = h.store.UpsertChunks(r.Context(), rows)
		}
		if err != nil {
			entry.Status, entry.ErrorCode = model.UsageError, h.writeMappedError(w, r, err)
			return
		}
	}

	// Some providers omit usage on embedding responses; fall back to the
	// local estimate so the ledger still accrues something for the call.
	promptTokens, totalTokens := embedUsage.PromptTokens, embedUsage.TotalTokens
	if promptTokens == 0 && totalTokens == 0 {
		promptTokens, totalTokens = int(estimate), int(estimate)
	}

	entry.Status = model.UsageSuccess
	entry.Model = embedModel
	entry.PromptTokens = &promptTokens
	entry.TotalTokens = &totalTokens

	writeJSON(w, r, http.StatusOK, model.EmbeddingResponse{
		RequestID:          requestID,
		Model:              embedModel,
		SourceCount:        len(req.Sources),
		EmbeddedChunkCount: len(texts),
		Usage: model.EmbeddingUsage{
			PromptTokens: promptTokens,
			TotalTokens:  totalTokens,
		},
	})
}
