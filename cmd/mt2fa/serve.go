package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/playwright"
	sqliteadapter "github.com/ericfisherdev/mt2fa/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/totp"
	"github.com/ericfisherdev/mt2fa/internal/adapter/driving/accountfile"
	httphandler "github.com/ericfisherdev/mt2fa/internal/adapter/driving/http"
	"github.com/ericfisherdev/mt2fa/internal/application"
)

// schedulerDrainTimeout bounds how long shutdown waits for the poll loop.
const schedulerDrainTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"basic_auth", cfg.HasBasicAuth(),
		"accounts_file", cfg.AccountsFile,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signalContext(parent)
	defer stop()

	// 3. Open database, run migrations and build the vault.
	db, v, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Wire adapters.
	accounts := sqliteadapter.NewAccountRepo(db)
	runs := sqliteadapter.NewRunRepo(db)

	driver := playwright.NewDriver(playwright.Options{
		Install: cfg.InstallBrowsers,
		Verbose: cfg.InstallBrowsers,
		Output:  os.Stderr,
	}, logger)
	defer func() {
		if stopErr := driver.Stop(); stopErr != nil {
			logger.Error("error stopping browser driver", "error", stopErr)
		}
	}()

	// 5. Sync and watch the accounts file, when configured.
	if cfg.AccountsFile != "" {
		syncer := accountfile.NewSyncer(accounts, v, logger)
		if _, err := syncer.Sync(ctx, cfg.AccountsFile); err != nil {
			return err
		}
		go func() {
			if err := syncer.Watch(ctx, cfg.AccountsFile, accountfile.DefaultDebounce); err != nil {
				logger.Error("accounts file watcher stopped", "error", err)
			}
		}()
	}

	// 6. Create and start the scheduler.
	loginSvc := application.NewLoginService(driver, totp.Generator{}, logger)
	scheduler := application.NewScheduler(accounts, runs, v, loginSvc, application.SchedulerConfig{
		DataDir:      cfg.DataDir,
		PollInterval: cfg.PollInterval,
	}, logger)
	go scheduler.Start(ctx)

	// 7. Create HTTP handler and server.
	handler := httphandler.NewServeMux(
		httphandler.NewHandler(accounts, runs, scheduler, db, cfg.DataDir, logger),
		logger,
		httphandler.BasicAuth{User: cfg.BasicAuthUser, Password: cfg.BasicAuthPassword},
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("mt2fa started", "listen_addr", cfg.ListenAddr, "poll_interval", cfg.PollInterval)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// 9. Drain the HTTP server, then the scheduler. Runs in flight finish on
	// their own context so their audit rows are finalized.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if !drainScheduler(scheduler.Done(), scheduler.Wait, schedulerDrainTimeout) {
		logger.Warn("scheduler did not stop in time, abandoning runs in flight", "timeout", schedulerDrainTimeout)
		return nil
	}

	logger.Info("shutdown complete")
	return nil
}

// drainScheduler waits for the poll loop to exit and for runs in flight to
// return, giving up after timeout. It reports whether the drain completed.
func drainScheduler(done <-chan struct{}, wait func(), timeout time.Duration) bool {
	drained := make(chan struct{})
	go func() {
		<-done
		wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}
