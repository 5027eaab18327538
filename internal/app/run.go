package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/config"
	"dicom-router/internal/routing"
	"dicom-router/internal/storage/file"
)

const version = "1.0.0"

// Run is the main entry point for the application
func Run(args []string) error {
	flags := pflag.NewFlagSet("dicom-router", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "load environment variables from this file when it exists")
	checkRules := flags.Bool("check-rules", false, "compile the persisted rule file, report the result and exit")
	logFormat := flags.String("log-format", "json", "log output format: json or console")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Load environment variables
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	// Initialize logging
	if _, err := logging.InitGlobalLogger(cfg.LogLevel, *logFormat, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	if *checkRules {
		return CheckRules(context.Background(), cfg)
	}

	logging.Info("Starting DICOM router",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: version},
	)

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start server
	srv := app.NewServer(app.Handler())
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start event sources", err)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	// Stop consuming events before the server goes away
	cancel()
	if err := app.TriggerManager.Stop(); err != nil {
		logging.Warn("Error stopping triggers", logging.Field{Key: "error", Value: err.Error()})
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}

// CheckRules compiles the persisted rule file without starting the router
func CheckRules(ctx context.Context, cfg *config.Config) error {
	if cfg.RulesStore != config.RulesStoreFile {
		return fmt.Errorf("--check-rules reads the rule file; RULES_STORE is %q", cfg.RulesStore)
	}

	store := routing.NewRuleStore(file.NewRuleFile(cfg.RulesFilePath), logging.GetGlobalLogger())
	set, err := store.Load(ctx)
	if err != nil {
		logging.Error("Rule file check failed", err, logging.Field{Key: "path", Value: cfg.RulesFilePath})
		return err
	}

	logging.Info("Rule file is valid",
		logging.Field{Key: "path", Value: cfg.RulesFilePath},
		logging.Field{Key: "rules", Value: set.Len()},
	)
	return nil
}
