// Package app is the composition root shared by cmd/dproc-server and
// cmd/dproc, wiring the C1-C8 components together from one loaded Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/clients/anthropic"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/clients/gemini"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/clients/openai"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/pipeline"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/queue"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/storage"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/store"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/submitter"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/worker"
)

// App holds every initialized component. It is the shared core used by
// cmd/dproc-server (HTTP + worker pool) and cmd/dproc (CLI, one-shot).
type App struct {
	Config *common.Config
	Logger *common.Logger

	Store interfaces.ExecutionStore
	Blobs interfaces.BlobStore
	Queue interfaces.QueueAdapter

	closeCache func() error

	Loader        *pipeline.Loader
	Cancellations *executor.CancellationRegistry
	Executor      *executor.Executor
	Submitter     *submitter.Submitter

	StartupTime time.Time
}

// New loads configuration from configPaths (every existing file is applied
// in order, later files overriding earlier ones, per common.LoadConfig) and
// wires every component. Callers are responsible for calling Close when done.
func New(configPaths ...string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	config, err := common.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	execStore, err := store.NewFromConfig(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize execution store: %w", err)
	}

	blobs, err := storage.NewBlobStore(logger, &storage.BlobStoreConfig{
		Backend: storage.BackendFile,
		File:    storage.FileBlobConfig{BasePath: config.Storage.Blobs.Path},
	})
	if err != nil {
		execStore.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	ctx := context.Background()
	q, err := queue.NewFromConfig(ctx, config, logger)
	if err != nil {
		execStore.Close()
		blobs.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	cache, closeCache, err := executor.NewProcessorCache(logger, config.Storage.Cache.Path)
	if err != nil {
		execStore.Close()
		blobs.Close()
		q.Close()
		return nil, fmt.Errorf("failed to initialize processor cache: %w", err)
	}

	loader := pipeline.NewLoader(config.Workspace)
	cancellations := executor.NewCancellationRegistry()

	providers := buildProviders(ctx, config, logger)

	resolveAPIKey := func(ctx context.Context, provider string) (string, error) {
		return common.ResolveAPIKey(ctx, provider, fallbackAPIKey(config, provider))
	}

	exec := executor.New(execStore, blobs, loader, providers, cache, cancellations, logger, resolveAPIKey)
	sub := submitter.New(loader, execStore, q, cancellations, logger, resolveAPIKey)

	a := &App{
		Config:        config,
		Logger:        logger,
		Store:         execStore,
		Blobs:         blobs,
		Queue:         q,
		closeCache:    closeCache,
		Loader:        loader,
		Cancellations: cancellations,
		Executor:      exec,
		Submitter:     sub,
		StartupTime:   startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// buildProviders constructs one interfaces.LLMProvider per configured
// provider with a non-empty API key (env, secrets file, or static config).
// A provider with no resolvable key is simply omitted; the executor's
// stage-2 validation surfaces APIKeyMissing for any pipeline that needs it.
func buildProviders(ctx context.Context, config *common.Config, logger *common.Logger) map[string]interfaces.LLMProvider {
	providers := make(map[string]interfaces.LLMProvider)

	if key, err := common.ResolveAPIKey(ctx, "openai", config.LLM.OpenAI.APIKey); err == nil && key != "" {
		providers["openai"] = openai.NewClient(key, openai.WithLogger(logger))
	}
	if key, err := common.ResolveAPIKey(ctx, "anthropic", config.LLM.Anthropic.APIKey); err == nil && key != "" {
		providers["anthropic"] = anthropic.NewClient(key, anthropic.WithLogger(logger))
	}
	if key, err := common.ResolveAPIKey(ctx, "google", config.LLM.Google.APIKey); err == nil && key != "" {
		if client, err := gemini.NewClient(ctx, key, gemini.WithLogger(logger)); err == nil {
			providers["google"] = client
		} else {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client")
		}
	}
	return providers
}

// fallbackAPIKey returns the static per-provider config value ResolveAPIKey
// falls back to once env and secrets both miss.
func fallbackAPIKey(config *common.Config, provider string) string {
	switch provider {
	case "openai":
		return config.LLM.OpenAI.APIKey
	case "anthropic":
		return config.LLM.Anthropic.APIKey
	case "google":
		return config.LLM.Google.APIKey
	default:
		return ""
	}
}

// NewWorkerPool builds a worker.Pool over this App's queue and executor.
func (a *App) NewWorkerPool() *worker.Pool {
	cfg := worker.Config{
		Concurrency:      a.Config.Worker.ConcurrencyOrDefault(),
		ShutdownDeadline: a.Config.Worker.ShutdownDeadlineOrDefault(),
	}
	return worker.New(a.Queue, a.Executor, a.Cancellations, a.Logger, cfg)
}

// Close releases every resource the App opened.
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Blobs != nil {
		a.Blobs.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.closeCache != nil {
		a.closeCache()
	}
}
