// Package main provides the entry point for the opportunity scanner.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/scanner"
	"github.com/yourusername/edge-scanner/internal/scheduler"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configFile string
	envFile    string
	pretty     bool
	cfg        *config.Config
	logger     *logrus.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")
	scanCmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
}

var rootCmd = &cobra.Command{
	Use:   "edge-scanner",
	Short: "Sports betting opportunity scanner",
	Long: `Polls odds, stats and props providers, extracts arbitrage, value and prop
opportunities, sizes them with a capped Kelly criterion and keeps an
optimized portfolio of the live set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd.Context()); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = applog.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scanner on its schedule with the API, stream and health servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan cycle and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanOnce(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edge-scanner %s (%s)\n", Version, GitCommit)
	},
}

func main() {
	rootCmd.AddCommand(runCmd, scanCmd, versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig(ctx context.Context) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	loaded, err := config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}

	if err := config.LoadSecretsFromAWS(ctx, loaded); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := config.Validate(loaded); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	return nil
}

func run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"version":     Version,
		"environment": cfg.App.Environment,
		"sports":      cfg.Scanner.Sports,
		"strategies":  cfg.Scanner.Strategies,
	}).Info("Edge scanner starting")

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run(ctx)

	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- a.api.Start()
	}()

	sched, err := scheduler.NewScheduler(cfg.Scanner.ScanInterval(), cfg.Scanner.OverlapPolicy, func(ctx context.Context) error {
		_, err := a.scanner.Scan(ctx, "schedule")
		if errors.Is(err, scanner.ErrScanInProgress) {
			return scheduler.ErrSkipped
		}
		return err
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return err
	}

	if cfg.Scanner.ScanOnStart {
		go func() {
			if _, err := a.scanner.Scan(ctx, "startup"); err != nil && !errors.Is(err, scanner.ErrScanInProgress) {
				logger.WithError(err).Error("Startup scan failed")
			}
		}()
	}

	a.health.SetReady(true)
	logger.WithField("next_scan", sched.NextRun()).Info("Edge scanner running")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-apiErr:
		if err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}

	a.health.SetReady(false)
	if err := sched.Stop(); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.api.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server did not stop cleanly")
	}
	if err := a.health.Shutdown(); err != nil {
		logger.WithError(err).Warn("Health server did not stop cleanly")
	}

	logger.Info("Edge scanner stopped")
	return nil
}

func scanOnce(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the result
	logger.SetOutput(os.Stderr)

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.scanner.Scan(ctx, "cli")
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
