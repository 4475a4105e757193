package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/strataops/strata/internal/budget"
	"github.com/strataops/strata/internal/gate"
	"github.com/strataops/strata/internal/llm"
	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/prompt"
	"github.com/strataops/strata/internal/storage"
	"github.com/strataops/strata/internal/usage"
	"github.com/strataops/strata/internal/vault"
)

// Provider keys for the two upstream credential slots.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	secretKeyAPIKey = "api_key"
)

// ErrSecretMissing reports that neither the company nor its site has a
// credential stored for the requested provider. It maps to Forbidden rather
// than NotFound so callers cannot distinguish "no key" from "no access".
var ErrSecretMissing = errors.New("server: provider credential not configured")

// Store is the storage surface the handlers use, satisfied by storage.DB.
type Store interface {
	Ping(ctx context.Context) error
	GetCompany(ctx context.Context, companyID uuid.UUID) (*model.Company, error)
	GetCompanyAISettings(ctx context.Context, companyID uuid.UUID) (*model.CompanyAISettings, error)
	GetSecret(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey, secretKey string) (*model.EncryptedSecret, error)
	SetSecrets(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string, encrypted map[string]string) error
	ListSecretKeys(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) ([]model.SecretKeyStatus, error)
	DeleteSecrets(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) (int64, error)
	GetIntegration(ctx context.Context, scope model.SecretScope, scopeID uuid.UUID, providerKey string) (*model.Integration, error)
	SumTokensSince(ctx context.Context, companyID uuid.UUID, since time.Time) (int64, error)
	ReplaceSourceChunks(ctx context.Context, companyID uuid.UUID, sourceTable, sourceID string, chunks []model.DocumentChunk) error
	UpsertChunks(ctx context.Context, chunks []model.DocumentChunk) error
}

// AccessResolver answers who may act on which tenant.
type AccessResolver interface {
	CanUseCompany(ctx context.Context, companyID, userID uuid.UUID) (bool, error)
	CanManageCompanySecrets(ctx context.Context, companyID, userID uuid.UUID) (bool, error)
	CanManageSiteSecrets(ctx context.Context, siteID, userID uuid.UUID) (bool, error)
}

// Completer is the upstream chat completion surface.
type Completer interface {
	Complete(ctx context.Context, apiKey string, in llm.CompletionInput) (*llm.CompletionResult, error)
}

// Embedder is the upstream embedding surface.
type Embedder interface {
	EmbedAll(ctx context.Context, apiKey, model string, texts []string) ([]pgvector.Vector, llm.EmbeddingUsage, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store               Store
	resolver            AccessResolver
	codec               *vault.Codec
	assembler           *prompt.Assembler
	completions         Completer
	embeddings          Embedder
	ledger              *budget.Ledger
	usageLog            *usage.Logger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	upstreamErrorDetail bool
	embeddingModel      string
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Store               Store
	Resolver            AccessResolver
	Codec               *vault.Codec
	Assembler           *prompt.Assembler
	Completions         Completer
	Embeddings          Embedder
	Ledger              *budget.Ledger
	UsageLog            *usage.Logger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	UpstreamErrorDetail bool
	EmbeddingModel      string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		resolver:            d.Resolver,
		codec:               d.Codec,
		assembler:           d.Assembler,
		completions:         d.Completions,
		embeddings:          d.Embeddings,
		ledger:              d.Ledger,
		usageLog:            d.UsageLog,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		upstreamErrorDetail: d.UpstreamErrorDetail,
		embeddingModel:      d.EmbeddingModel,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// resolveProviderAPIKey loads and decrypts the tenant's credential for a
// provider. Company scope wins; the company's site is the fallback so one
// site-wide key can serve every company under it.
func (h *Handlers) resolveProviderAPIKey(ctx context.Context, companyID uuid.UUID, providerKey string) (string, error) {
	secret, err := h.store.GetSecret(ctx, model.ScopeCompany, companyID, providerKey, secretKeyAPIKey)
	if errors.Is(err, storage.ErrNotFound) {
		company, cerr := h.store.GetCompany(ctx, companyID)
		if cerr != nil {
			return "", fmt.Errorf("resolve %s credential: %w", providerKey, cerr)
		}
		secret, err = h.store.GetSecret(ctx, model.ScopeSite, company.SiteID, providerKey, secretKeyAPIKey)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrSecretMissing, providerKey)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s credential: %w", providerKey, err)
	}

	plaintext, err := h.codec.Decrypt(secret.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("decrypt %s credential: %w", providerKey, err)
	}
	return plaintext, nil
}

// writeMappedError translates a pipeline error into the API taxonomy and
// returns the error code it chose, which callers put on the usage row.
func (h *Handlers) writeMappedError(w http.ResponseWriter, r *http.Request, err error) string {
	var exceeded *budget.ExceededError
	var upstream *llm.UpstreamError

	switch {
	case errors.Is(err, gate.ErrFeatureDisabled):
		writeError(w, r, http.StatusForbidden, model.ErrCodeFeatureDisabled, err.Error())
		return model.ErrCodeFeatureDisabled
	case errors.As(err, &exceeded):
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeBudgetExceeded, exceeded.Error())
		return model.ErrCodeBudgetExceeded
	case errors.As(err, &upstream):
		// Provider failures, rate limits included, surface as 502 so a 429
		// from this API always means the tenant's own budget or rate limit.
		msg := "upstream provider error"
		if h.upstreamErrorDetail {
			msg = fmt.Sprintf("upstream provider returned status %d: %s", upstream.Status, upstream.Body)
		}
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstreamError, msg)
		return model.ErrCodeUpstreamError
	case errors.Is(err, ErrSecretMissing):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "provider credential not configured")
		return model.ErrCodeForbidden
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		return model.ErrCodeNotFound
	default:
		h.logger.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return model.ErrCodeInternalError
	}
}
