package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrieverd/internal/config"
	"github.com/fyrsmithlabs/retrieverd/internal/importance"
	"github.com/fyrsmithlabs/retrieverd/internal/logging"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one importance decay sweep and exit",
	Long: `Run one decay sweep: for every actor with audit activity today, decrement
each of their positive importance counters by 1. Intended for cron when the
built-in scheduler is disabled.

Examples:
  # Run a sweep against the default store
  retrieverd decay

  # Run a sweep with an explicit config file
  retrieverd decay --config ./retrieverd.yaml`,
	RunE: runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
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

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ledger, err := importance.NewLedger(db, logger.Named("importance"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	result, err := ledger.RunNightlyDecay(ctx)
	if err != nil {
		return fmt.Errorf("decay sweep: %w", err)
	}

	fmt.Printf("Decay complete: %d actors processed, %d importance points decayed\n",
		result.ActorsProcessed, result.ImportanceDecayed)
	return nil
}
