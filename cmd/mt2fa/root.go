package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/mt2fa/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/vault"
	"github.com/ericfisherdev/mt2fa/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "mt2fa",
	Short: "Keep website sessions alive with scheduled password + TOTP logins",
	Long: `mt2fa logs into websites that require a password and a time-based
one-time code, on a schedule per account, and keeps the resulting browser
session state on disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads configuration and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openStore opens the database, applies migrations and builds the vault.
// The caller closes the returned DB.
func openStore(cfg *config.Config, logger *slog.Logger) (*sqliteadapter.DB, *vault.AESVault, error) {
	if err := cfg.RequireMasterKey(); err != nil {
		return nil, nil, err
	}
	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create vault: %w", err)
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database opened", "path", cfg.DBPath)

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if version, _, err := sqliteadapter.SchemaVersion(db.Writer); err == nil {
		logger.Info("migrations complete", "schema_version", version)
	}

	return db, v, nil
}
