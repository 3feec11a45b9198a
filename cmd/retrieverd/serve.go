package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/authz"
	"github.com/fyrsmithlabs/retrieverd/internal/config"
	"github.com/fyrsmithlabs/retrieverd/internal/embeddings"
	"github.com/fyrsmithlabs/retrieverd/internal/importance"
	"github.com/fyrsmithlabs/retrieverd/internal/logging"
	"github.com/fyrsmithlabs/retrieverd/internal/retrieval"
	"github.com/fyrsmithlabs/retrieverd/internal/server"
	"github.com/fyrsmithlabs/retrieverd/internal/services"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retrieverd HTTP server",
	Long: `Start the retrieverd daemon: HTTP API, embedding provider, and the
nightly importance decay scheduler.

Examples:
  # Start with defaults
  retrieverd serve

  # Start with an explicit config file
  retrieverd serve --config ./retrieverd.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting retrieverd",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("store", cfg.Store.Path),
		zap.String("embeddings_provider", cfg.Embeddings.Provider))

	registry, cleanup, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Decay.Enabled {
		scheduler := registry.Scheduler()
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("starting decay scheduler: %w", err)
		}
		defer func() {
			_ = scheduler.Stop()
		}()
	}

	srv, err := server.NewServer(registry, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildRegistry initializes the store, embedding provider, and services.
// The returned cleanup closes them in reverse order.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (services.Registry, func(), error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	gate, err := authz.NewGate(db, logger.Named("authz"))
	if err != nil {
		_ = embedder.Close()
		_ = db.Close()
		return nil, nil, err
	}

	ledger, err := importance.NewLedger(db, logger.Named("importance"),
		importance.WithImportanceWeight(cfg.Scoring.ImportanceWeight))
	if err != nil {
		_ = embedder.Close()
		_ = db.Close()
		return nil, nil, err
	}

	scheduler, err := importance.NewDecayScheduler(ledger, logger.Named("decay"),
		importance.WithInterval(cfg.Decay.Interval))
	if err != nil {
		_ = embedder.Close()
		_ = db.Close()
		return nil, nil, err
	}

	engine, err := retrieval.NewEngine(db, gate, ledger, embedder, logger.Named("retrieval"),
		retrieval.WithWeights(retrieval.Weights{
			Importance:        cfg.Scoring.ImportanceWeight,
			Recency:           cfg.Scoring.RecencyWeight,
			EmphasizedRecency: cfg.Scoring.EmphasizedRecencyWeight,
			RecencyBoost:      cfg.Scoring.RecencyBoostWeight,
			RecencyHorizon:    cfg.Scoring.RecencyHorizon,
			Oversample:        cfg.Scoring.Oversample,
			DefaultLimit:      cfg.Scoring.DefaultLimit,
		}),
		retrieval.WithMetrics(retrieval.NewMetrics(nil)))
	if err != nil {
		_ = embedder.Close()
		_ = db.Close()
		return nil, nil, err
	}

	registry := services.NewRegistry(services.Options{
		Store:     db,
		Embedder:  embedder,
		Gate:      gate,
		Ledger:    ledger,
		Scheduler: scheduler,
		Engine:    engine,
	})

	cleanup := func() {
		if err := embedder.Close(); err != nil {
			logger.Warn("closing embedding provider", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}
	return registry, cleanup, nil
}
