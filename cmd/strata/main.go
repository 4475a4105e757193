package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/strataops/strata/internal/access"
	"github.com/strataops/strata/internal/auth"
	"github.com/strataops/strata/internal/budget"
	"github.com/strataops/strata/internal/config"
	"github.com/strataops/strata/internal/llm"
	"github.com/strataops/strata/internal/prompt"
	"github.com/strataops/strata/internal/ratelimit"
	"github.com/strataops/strata/internal/server"
	"github.com/strataops/strata/internal/storage"
	"github.com/strataops/strata/internal/telemetry"
	"github.com/strataops/strata/internal/usage"
	"github.com/strataops/strata/internal/vault"
	"github.com/strataops/strata/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("STRATA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("strata starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Secret codec. A missing or short master secret already failed
	// config validation; this only fails on crypto init.
	codec, err := vault.New(cfg.VaultMasterSecret)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Usage log spool. Optional; without it, rows that fail to insert
	// are logged and dropped.
	var spool *usage.Spool
	if cfg.UsageSpoolPath != "" {
		spool, err = usage.OpenSpool(cfg.UsageSpoolPath)
		if err != nil {
			return fmt.Errorf("usage spool: %w", err)
		}
		defer func() { _ = spool.Close() }()
		logger.Info("usage spool: enabled", "path", cfg.UsageSpoolPath)
	} else {
		logger.Info("usage spool: disabled (no STRATA_USAGE_SPOOL_PATH)")
	}
	usageLog := usage.New(db, spool, logger)
	if spool != nil {
		usageLog.StartReplay(ctx, 30*time.Second)
	}

	// Rate limiter keyed by authenticated user.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.Config{
		Handlers: server.HandlersDeps{
			Store:               db,
			Resolver:            access.New(db),
			Codec:               codec,
			Assembler:           prompt.New(),
			Completions:         llm.NewCompletionClient(cfg.CompletionBaseURL, cfg.CompletionModel),
			Embeddings:          llm.NewEmbeddingClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel),
			Ledger:              budget.New(db),
			UsageLog:            usageLog,
			Logger:              logger,
			Version:             version,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
			UpstreamErrorDetail: cfg.UpstreamErrorDetail,
			EmbeddingModel:      cfg.EmbeddingModel,
		},
		JWTMgr:             jwtMgr,
		Limiter:            limiter,
		Logger:             logger,
		Port:               cfg.Port,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Drain HTTP first; in-flight requests may still
	// append usage rows, so the spool closes last (deferred above).
	slog.Info("strata shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("strata stopped")
	return nil
}
