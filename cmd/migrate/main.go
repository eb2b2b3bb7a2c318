/*
main.go - CLI entry point for the commission migration engine

PURPOSE:
  Wires configuration, storage, the pipeline engine and the inspection
  API behind a small set of subcommands:

    migrate run     Execute the full pipeline over the stored snapshot
    migrate serve   Serve the inspection API over the saved results
    migrate audit   Print the per-group conformance report
    migrate seed    Load the built-in demo book of business

CONFIGURATION:
  Environment variables (a .env file is honored when present):
    MIGRATE_DB         SQLite database path (default: commission.db)
    MIGRATE_PORT       Inspection API port  (default: 8080)
    MIGRATE_WORKERS    Per-group worker fan-out (default: 4)
    MIGRATE_LOG_LEVEL  zap level: debug, info, warn, error (default: info)
  Flags of the same names override the environment.

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM the server stops accepting connections, waits up to
  30s for in-flight requests, then closes the database.

SEE ALSO:
  - pipeline/pipeline.go: stage orchestration
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: persistence
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/pipeline"
	"github.com/warp/commission-engine/store/sqlite"
)

type config struct {
	dbPath   string
	port     int
	workers  int
	logLevel string
}

func loadConfig() config {
	// Missing .env files are fine; the environment still applies.
	_ = godotenv.Load()

	cfg := config{dbPath: "commission.db", port: 8080, workers: 4, logLevel: "info"}
	if v := os.Getenv("MIGRATE_LOG_LEVEL"); v != "" {
		cfg.logLevel = v
	}
	if v := os.Getenv("MIGRATE_DB"); v != "" {
		cfg.dbPath = v
	}
	if v := os.Getenv("MIGRATE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.port = n
		}
	}
	if v := os.Getenv("MIGRATE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.workers = n
		}
	}
	return cfg
}

func main() {
	cfg := loadConfig()

	level, err := zapcore.ParseLevel(cfg.logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Commission structure migration engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.dbPath, "db", cfg.dbPath, "SQLite database path")
	root.PersistentFlags().IntVar(&cfg.workers, "workers", cfg.workers, "per-group worker fan-out")

	serveCmd := newServeCmd(&cfg, logger)
	serveCmd.Flags().IntVar(&cfg.port, "port", cfg.port, "inspection API port")

	root.AddCommand(
		newRunCmd(&cfg, logger),
		serveCmd,
		newAuditCmd(&cfg),
		newSeedCmd(&cfg, logger),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// RUN - execute the pipeline over the stored snapshot
// =============================================================================

func newRunCmd(cfg *config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the full migration pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(cfg.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.LoadSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			logger.Info("snapshot loaded",
				zap.Int("records", len(snap.Records)),
				zap.Int("brokers", len(snap.Brokers)))

			eng := pipeline.New(pipeline.Config{Workers: cfg.workers, Logger: logger})
			res, err := eng.Run(cmd.Context(), snap)
			if err != nil {
				return err
			}

			if err := store.SaveRun(cmd.Context(), res); err != nil {
				return fmt.Errorf("save results: %w", err)
			}
			logger.Info("run saved",
				zap.Int("proposals", len(res.Proposals)),
				zap.Int("hierarchies", len(res.Hierarchies)),
				zap.Int("assignments", len(res.Assignments)),
				zap.Int("exceptions", len(res.Exceptions)))
			return nil
		},
	}
}

// =============================================================================
// SERVE - inspection API over saved results
// =============================================================================

func newServeCmd(cfg *config, logger *zap.Logger) *cobra.Command {
	var rerun bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(cfg.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			eng := pipeline.New(pipeline.Config{Workers: cfg.workers, Logger: logger})
			if rerun {
				snap, err := store.LoadSnapshot(cmd.Context())
				if err != nil {
					return fmt.Errorf("load snapshot: %w", err)
				}
				res, err := eng.Run(cmd.Context(), snap)
				if err != nil {
					return err
				}
				if err := store.SaveRun(cmd.Context(), res); err != nil {
					return fmt.Errorf("save results: %w", err)
				}
			}

			router := api.NewRouter(api.NewHandler(store, eng))
			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				logger.Info("inspection API listening", zap.Int("port", cfg.port))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("server failed", zap.Error(err))
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	}
	cmd.Flags().BoolVar(&rerun, "rerun", false, "re-run the pipeline before serving")
	return cmd
}

// =============================================================================
// AUDIT - print the conformance report
// =============================================================================

func newAuditCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Print the per-group conformance report from the saved run",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(cfg.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.LoadConformance(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no saved run; use 'migrate run' first")
				return nil
			}

			proposals, err := store.LoadProposals(cmd.Context(), "")
			if err != nil {
				return err
			}
			tiers := map[string]int{}
			for _, p := range proposals {
				tiers[string(p.Tier)]++
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %8s %8s %10s  %s\n", "GROUP", "TOTAL", "RESOLVED", "PCT", "CLASS")
			for _, r := range records {
				fmt.Fprintf(w, "%-12s %8d %8d %9s%%  %s\n",
					r.Group, r.Total, r.Resolved, r.Percentage.StringFixed(2), r.Class)
			}
			fmt.Fprintf(w, "\n%d proposals:", len(proposals))
			for _, tier := range []string{"simple", "plan_differentiated", "year_differentiated", "granular", "consolidated"} {
				if n := tiers[tier]; n > 0 {
					fmt.Fprintf(w, " %s=%d", tier, n)
				}
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}

// =============================================================================
// SEED - load the demo book of business
// =============================================================================

func newSeedCmd(cfg *config, logger *zap.Logger) *cobra.Command {
	var bookPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo book of business into the snapshot tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(cfg.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snap := factory.DemoBook()
			if bookPath != "" {
				data, err := os.ReadFile(bookPath)
				if err != nil {
					return err
				}
				if snap, err = factory.ParseBook(data); err != nil {
					return fmt.Errorf("parse book: %w", err)
				}
			}

			if err := store.SaveSnapshot(cmd.Context(), snap); err != nil {
				return err
			}
			logger.Info("snapshot seeded",
				zap.Int("records", len(snap.Records)),
				zap.Int("brokers", len(snap.Brokers)))
			return nil
		},
	}
	cmd.Flags().StringVar(&bookPath, "book", "", "JSON book definition (default: built-in demo)")
	return cmd
}
