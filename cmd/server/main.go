package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rrens/imagegen-studio/internal/api"
	"github.com/Rrens/imagegen-studio/internal/api/handler"
	"github.com/Rrens/imagegen-studio/internal/cache"
	"github.com/Rrens/imagegen-studio/internal/config"
	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
	"github.com/Rrens/imagegen-studio/internal/llm/openrouter"
	"github.com/Rrens/imagegen-studio/internal/logging"
	"github.com/Rrens/imagegen-studio/internal/repository/file"
	"github.com/Rrens/imagegen-studio/internal/repository/postgres"
	"github.com/Rrens/imagegen-studio/internal/repository/redis"
	"github.com/Rrens/imagegen-studio/internal/repository/sqlite"
	"github.com/Rrens/imagegen-studio/internal/service"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closer, err := logging.Setup(cfg.Logging, os.Getenv("ENV") == "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

// sessionStore opens the configured session backend. The returned cleanup
// releases it.
func sessionStore(ctx context.Context, cfg *config.Config, pingers map[string]handler.Pinger) (domain.SessionStore, func(), error) {
	switch cfg.Storage.Driver {
	case "", "file":
		return file.NewSessionRepository(cfg.Storage.DataDir), func() {}, nil

	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil

	case "postgres":
		if err := postgres.RunMigrations(cfg.Database.DSN(), "file://migrations"); err != nil {
			return nil, nil, err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		pingers["postgres"] = db
		return postgres.NewSessionRepository(db.Pool), db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
}

func modelOverrides(cfg *config.Config) []llm.ModelOverride {
	overrides := make([]llm.ModelOverride, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		overrides = append(overrides, llm.ModelOverride{
			ID:              m.ID,
			MaxRequestBytes: m.MaxRequestBytes,
			ContextLimit:    m.ContextLimit,
		})
	}
	return overrides
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	pingers := map[string]handler.Pinger{}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("Starting image generation server")

	sessions, closeSessions, err := sessionStore(ctx, cfg, pingers)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeSessions()

	registry := llm.NewRegistry(llm.DefaultModels()...)
	if err := registry.ApplyOverrides(modelOverrides(cfg)); err != nil {
		return err
	}

	secrets := file.NewSecretStore(cfg.Secrets.File, cfg.Secrets.APIKey, cfg.Secrets.Passphrase)
	if source := secrets.Source(); source != "" {
		log.Info().Str("source", source).Msg("OpenRouter API key configured")
	} else {
		log.Warn().Msg("No OpenRouter API key configured")
	}
	logging.SetSecretSource(func() string {
		key, _ := secrets.APIKey()
		return key
	})

	policy := llm.DefaultClientPolicy(cfg.OpenRouter.BackoffUnit)
	if cfg.OpenRouter.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.OpenRouter.MaxAttempts
	}

	// One pooled client shared by every generation call
	httpClient := &http.Client{Timeout: cfg.OpenRouter.Timeout}
	provider := openrouter.NewProvider(httpClient, registry, secrets, openrouter.Config{
		BaseURL: cfg.OpenRouter.BaseURL,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
		Policy:  policy,
	})

	images := file.NewImageRepository(cfg.Storage.DataDir)
	history := file.NewHistoryRepository(cfg.Storage.DataDir)
	referenceRepo := file.NewReferenceRepository(cfg.Storage.DataDir)
	references := cache.NewReferenceCache(cfg.Cache.ReferenceCapacity, referenceRepo)

	active := service.NewActiveGenerations()
	batch := service.NewBatchOrchestrator(registry, cfg.Batch.StaggerDelay, cfg.Batch.MaxVariationAttempts, nil)

	deps := api.Dependencies{
		Generation:    service.NewGenerationService(provider, registry, references, images, history, batch, active),
		Conversations: service.NewConversationService(sessions, registry, provider, images, history, active),
		References:    service.NewReferenceService(referenceRepo, references),
		Images:        images,
		Keys:          secrets,
		Tester:        provider,
		Registry:      registry,
		Pingers:       pingers,
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		pingers["redis"] = redisClient
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Redis.RateLimit)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(sigCtx)

	eg.Go(func() error {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	return eg.Wait()
}
