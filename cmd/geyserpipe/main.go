package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/geyserpipe/geyserpipe/internal/common"
	internalconfig "github.com/geyserpipe/geyserpipe/internal/config"
	"github.com/geyserpipe/geyserpipe/internal/db"
	"github.com/geyserpipe/geyserpipe/internal/feed"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/migrations"
	"github.com/geyserpipe/geyserpipe/internal/pipeline"
	"github.com/geyserpipe/geyserpipe/pkg/api"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║          GeyserPipe v%s                ║
║   Account Update Streaming Pipeline       ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geyserpipe",
	Short: "GeyserPipe - validator account update streaming pipeline",
	Long: `GeyserPipe ingests account updates and slot status notifications from a
validator host, resolves fork finality, persists rooted account state, and
streams committed updates to filtered subscribers.`,
	Version: version,
	RunE:    runPipeline,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	Long:  `Print a JSON schema describing the configuration file format, for editor validation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		schema := reflector.Reflect(&config.Config{})

		encoded, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}

		fmt.Println(string(encoded))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(schemaCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	// Load configuration
	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	// Initialize logger. The typed-nil guard matters: a nil *LoggingConfig in
	// a non-nil interface would defeat the loader's nil check.
	var logCfg logger.Config
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}
	log := logger.NewComponentLoggerFromConfig(common.ComponentPipeline, logCfg)
	defer func() { _ = log.Close() }()

	// Initialize metrics server if enabled
	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// Initialize database
	log.Infof("Opening %s store...", cfg.Store.Driver)
	database, err := db.NewFromConfig(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(
		logger.NewComponentLoggerFromConfig(common.ComponentStore, logCfg),
		database,
		cfg.Store,
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Assemble the pipeline
	p := pipeline.New(*cfg, database, logger.NewComponentLoggerFromConfig(common.ComponentPipeline, logCfg))

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(runCtx)
	})

	// Start the socket feed if enabled
	if cfg.Feed != nil && cfg.Feed.Enabled {
		feedAdapter := feed.New(*cfg.Feed, p, logger.NewComponentLoggerFromConfig(common.ComponentFeed, logCfg))
		g.Go(func() error {
			if err := feedAdapter.Run(runCtx); err != nil {
				return fmt.Errorf("feed failed: %w", err)
			}
			return nil
		})
	}

	// Start API server if enabled
	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, p, logger.NewComponentLoggerFromConfig(common.ComponentAPI, logCfg))
		g.Go(func() error {
			if err := apiServer.Start(runCtx); err != nil {
				return fmt.Errorf("API server failed: %w", err)
			}
			return nil
		})
	}

	log.Info("Starting GeyserPipe...")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	log.Info("GeyserPipe stopped successfully")
	return nil
}
