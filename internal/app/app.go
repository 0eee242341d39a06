package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/infrastructure/archive"
	"ReviewHarvester/internal/infrastructure/llm"
	"ReviewHarvester/internal/infrastructure/ml"
	"ReviewHarvester/internal/infrastructure/scheduler"
	"ReviewHarvester/internal/infrastructure/serpapi"
	"ReviewHarvester/internal/infrastructure/storage"
	"ReviewHarvester/internal/infrastructure/telegram"
	"ReviewHarvester/internal/logging"
	"ReviewHarvester/internal/ports"
	"ReviewHarvester/internal/usecase"
)

// Options are per-invocation switches that do not belong in the config file.
type Options struct {
	SkipClassify bool

	// ReadOnly opens the store without creating or migrating it, for commands that only read.
	ReadOnly bool
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
	closers  []func() error
}

// New builds the adapters selected by cfg and the pipeline on top of them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	store, err := a.openStore(ctx, cfg.Store, opts.ReadOnly, baseLogger.With("component", "store"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var keySources []ports.KeySource
	for _, path := range cfg.Store.KnownKeySources {
		src, err := a.openKeySource(ctx, path, cfg.Store, baseLogger.With("component", "store.keys"))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		keySources = append(keySources, src)
	}

	deps := usecase.PipelineDeps{
		Fetcher: serpapi.NewFetcher(cfg.Source, &http.Client{Timeout: cfg.Source.Timeout},
			baseLogger.With("component", "source.serpapi")),
		Store:           store,
		KnownKeySources: keySources,
		Classifier:      newClassifier(cfg.Classifier, baseLogger.With("component", "classifier")),
		Logger:          baseLogger.With("component", "pipeline"),
	}
	if n := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID); n.Configured() {
		deps.Notifier = n
	}
	if cfg.Archive.Path != "" {
		deps.Archive = archive.NewJSONLArchive(cfg.Archive.Path)
	}

	a.pipeline = usecase.NewPipeline(deps, usecase.PipelineOptions{
		Limits: usecase.IngestionLimits{
			MaxNewRecords:   cfg.Ingest.MaxNewRecords,
			KnownStreakStop: cfg.Ingest.KnownStreakStop,
			InterPageDelay:  cfg.Ingest.InterPageDelay,
			MaxPages:        cfg.Ingest.MaxPages,
		},
		Classify: usecase.ClassifyOptions{
			Categories:      cfg.Classifier.Categories,
			MinInterval:     cfg.Classifier.MinInterval,
			CheckpointEvery: cfg.Classifier.CheckpointEvery,
		},
		SkipClassify: opts.SkipClassify,
	})
	return a, nil
}

// Run performs one ingestion run tagged with a fresh run id.
func (a *Application) Run(ctx context.Context) (usecase.Summary, error) {
	runLogger := a.logger.With("run_id", uuid.NewString())
	return a.pipeline.RunWithLogger(ctx, runLogger)
}

// Classify labels stored records without fetching.
func (a *Application) Classify(ctx context.Context) (usecase.Summary, error) {
	return a.pipeline.Classify(ctx)
}

// Stats describes the configured store.
func (a *Application) Stats(ctx context.Context) (usecase.Stats, error) {
	return a.pipeline.Stats(ctx)
}

// RunEvery runs the pipeline now and then every interval until ctx is done.
func (a *Application) RunEvery(ctx context.Context, every time.Duration) error {
	sched := usecase.NewScheduler(scheduler.NewIntervalScheduler(every), a.Run,
		a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started", "every", every)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases database handles.
func (a *Application) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func (a *Application) openStore(ctx context.Context, cfg config.StoreConfig, readOnly bool, logger *slog.Logger) (ports.RecordStore, error) {
	switch cfg.Backend {
	case config.BackendCSV:
		return storage.NewCSVStore(cfg.Path, cfg.BackupDir, logger), nil
	case config.BackendSQLite:
		open := func() (*storage.SQLiteStore, error) {
			return storage.OpenSQLite(ctx, cfg.Path, cfg.Table, cfg.BackupDir, logger)
		}
		if readOnly {
			open = func() (*storage.SQLiteStore, error) {
				return storage.OpenSQLiteReadOnly(ctx, cfg.Path, cfg.Table, logger)
			}
		}
		s, err := open()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendPostgres:
		open := storage.OpenPostgres
		if readOnly {
			open = storage.OpenPostgresReadOnly
		}
		s, err := open(ctx, cfg.DSN, cfg.Table, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openKeySource picks the reader by file extension: SQLite files share the
// configured table name, everything else is read as CSV. Key sources are only
// read; a missing file contributes no keys and is not created.
func (a *Application) openKeySource(ctx context.Context, path string, cfg config.StoreConfig, logger *slog.Logger) (ports.KeySource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := storage.OpenSQLiteReadOnly(ctx, path, cfg.Table, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return storage.NewCSVStore(path, "", logger), nil
	}
}

func newClassifier(cfg config.ClassifierConfig, logger *slog.Logger) ports.Classifier {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewChatGPTClassifier(cfg, logger.With("provider", "openai"))
	case config.ProviderInference:
		return ml.NewClient(cfg, logger.With("provider", "inference"))
	default:
		return nil
	}
}
