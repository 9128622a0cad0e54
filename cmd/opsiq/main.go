// Command opsiq runs the operations intelligence orchestrator: it answers
// natural-language questions about infrastructure by planning and executing
// typed tool chains across the configured backends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/opsintel/opsiq/pkg/api"
	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/breaker"
	"github.com/opsintel/opsiq/pkg/cache"
	"github.com/opsintel/opsiq/pkg/chain"
	"github.com/opsintel/opsiq/pkg/cleanup"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/database"
	"github.com/opsintel/opsiq/pkg/llm"
	"github.com/opsintel/opsiq/pkg/masking"
	"github.com/opsintel/opsiq/pkg/models"
	"github.com/opsintel/opsiq/pkg/pipeline"
	"github.com/opsintel/opsiq/pkg/planner"
	"github.com/opsintel/opsiq/pkg/query"
	"github.com/opsintel/opsiq/pkg/sources"
	"github.com/opsintel/opsiq/pkg/tools"
	"github.com/opsintel/opsiq/pkg/trace"
	"github.com/opsintel/opsiq/pkg/validator"
	"github.com/opsintel/opsiq/pkg/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}
	setupLogging()
	slog.Info("Starting", "app", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.Initialize(ctx, configDir())
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database configuration: %w", err)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Persisted overrides win over file and environment.
	settingsStore := database.NewSettingsStore(db.DB())
	overrides, err := settingsStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading settings overrides: %w", err)
	}
	settings.ApplyOverrides(overrides)

	masker := masking.NewService(nil)

	// Asset registry and derived caches.
	assetStore := assets.NewStore(db.DB())
	assetSvc := assets.NewService(assetStore)
	catalog := assets.NewCatalog(assetSvc)

	// Source connections; a source republish drops its pooled connection.
	srcs := sources.NewManager(sources.EnvSecretStore{})
	assetSvc.Subscribe(func(asset *models.Asset) {
		if asset.Type == models.AssetTypeSource {
			srcs.Invalidate(context.Background(), asset.Name)
		}
	})
	defer srcs.CloseAll(context.Background())

	resolver := query.NewResolver(assetSvc)
	registry := tools.NewRegistry(assetSvc, "")
	breakers := breaker.NewManager(breaker.DefaultConfig())
	mcpPool := tools.NewMCPPool(catalog)
	defer mcpPool.Close()

	executor := tools.NewExecutor(registry, resolver, catalog, srcs,
		cacheStore(), breakers, mcpPool, masker, settings)
	assetSvc.Subscribe(func(asset *models.Asset) {
		if asset.Type == models.AssetTypeTool {
			executor.InvalidateSchemas()
		}
	})

	client, err := llmClient(settings)
	if err != nil {
		return err
	}
	plans := planner.New(catalog, client, registry, settings.PlannerMinConfidence)
	checks := validator.New(catalog, registry)
	chains := chain.NewExecutor(executor, settings.MaxParallelSteps, settings.ChainBudget())

	traceStore := trace.NewStore(db.DB())
	pipe := pipeline.New(plans, checks, chains, catalog, traceStore, masker, settings)

	cleanup.NewRunner(traceStore, settings.Retention).Start(ctx)

	server := api.NewServer(pipe, assetSvc, traceStore, db, breakers, settings, settingsStore)
	return server.Run(ctx, listenAddr())
}

func setupLogging() {
	level := slog.LevelInfo
	if os.Getenv("OPS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func llmClient(settings *config.Settings) (llm.Client, error) {
	if settings.Mode == config.OpsModeMock {
		slog.Info("Using mock language model")
		return llm.NewMockClient(), nil
	}
	client, err := llm.NewClient(settings.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return client, nil
}

// cacheStore picks Redis when configured, in-process memory otherwise.
func cacheStore() cache.Store {
	addr := os.Getenv("OPS_REDIS_ADDR")
	if addr == "" {
		return cache.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("OPS_REDIS_PASSWORD"),
	})
	slog.Info("Using Redis result cache", "addr", addr)
	return cache.NewRedisStore(client)
}

func configDir() string {
	if dir := os.Getenv("OPS_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "."
}

func listenAddr() string {
	if addr := os.Getenv("OPS_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
