package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"call_dashboard/internal/config"
	"call_dashboard/internal/contacts"
	"call_dashboard/internal/events"
	"call_dashboard/internal/httpapi"
	"call_dashboard/internal/jobs"
	"call_dashboard/internal/kv"
	"call_dashboard/internal/metrics"
	"call_dashboard/internal/notes"
	"call_dashboard/internal/stats"
	"call_dashboard/internal/twilio"
	"call_dashboard/internal/watch"
)

// App wires the service components together.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      kv.Store
	reconciler *contacts.Reconciler
	runner     *jobs.Runner
	watcher    *watch.Watcher
	mux        *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	bus := events.NewBus()
	source := twilio.New(twilio.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.BaseURL,
		Timeout:    cfg.Twilio.Timeout,
		Retries:    cfg.Twilio.Retries,
	}, logger.With("component", "twilio"))

	exclusions := contacts.NewExclusions(cfg.ExcludedNumbers)
	reconciler := contacts.NewReconciler(source, st, exclusions, contacts.Options{
		Limit:   cfg.RecordLimit,
		Metrics: m,
		Bus:     bus,
		Logger:  logger.With("component", "contacts"),
	})
	runner := jobs.NewRunner(reconciler, jobs.Options{
		Schedule:    cfg.SyncSchedule,
		HistorySize: cfg.SyncHistorySize,
		Metrics:     m,
		Bus:         bus,
		Logger:      logger.With("component", "sync"),
	})
	noteStore := notes.NewStore(st, notes.Options{
		Concurrency: cfg.NoteConcurrency,
		Metrics:     m,
		Bus:         bus,
		Logger:      logger.With("component", "notes"),
	})
	watcher := watch.New(cfg.ExclusionsFile, cfg.ExcludedNumbers, exclusions, bus, logger.With("component", "watch"))

	mux := http.NewServeMux()
	router := httpapi.NewRouter(httpapi.Deps{
		Config:   cfg,
		Stats:    stats.NewService(source, cfg.RecordLimit, m, logger.With("component", "stats")),
		Contacts: reconciler,
		Runner:   runner,
		Notes:    noteStore,
		Store:    st,
		Bus:      bus,
		Metrics:  m,
		Logger:   logger.With("component", "http"),
	})
	router.Register(mux)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		reconciler: reconciler,
		runner:     runner,
		watcher:    watcher,
		mux:        mux,
	}, nil
}

// openStore opens the configured backend. When SQLite cannot be opened and
// the config is not strict, the service keeps running on process memory.
func openStore(cfg config.Config, logger *slog.Logger) (kv.Store, error) {
	if cfg.KVBackend == config.BackendMemory {
		logger.Info("using in-memory store")
		return kv.NewMemory(), nil
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("create db dir", "dir", dir, "error", err)
		}
	}
	st, err := kv.OpenSQLite(cfg.DBPath)
	if err == nil {
		return st, nil
	}
	if cfg.StrictConfig {
		return nil, err
	}
	logger.Warn("sqlite unavailable, falling back to in-memory store", "path", cfg.DBPath, "error", err)
	return kv.NewMemory(), nil
}

// Run starts the scheduler, the exclusions watcher and the HTTP server, and
// blocks until ctx ends or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if roster, _, err := a.reconciler.Roster(ctx); err != nil {
		a.logger.Warn("initial roster load failed", "error", err)
	} else {
		a.logger.Info("roster loaded", "contacts", len(roster))
	}

	if err := a.watcher.Start(ctx); err != nil {
		if a.cfg.StrictConfig {
			return fmt.Errorf("start exclusions watcher: %w", err)
		}
		a.logger.Warn("exclusions watcher not started", "error", err)
	}
	if err := a.runner.Start(ctx); err != nil {
		return err
	}
	defer a.runner.Stop()

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http listening", "addr", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Mux() *http.ServeMux { return a.mux }
func (a *App) Store() kv.Store      { return a.store }
