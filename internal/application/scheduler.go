// Package application holds the login keeper's use cases: the OTP field
// detector, the single-attempt login state machine, page probing and the
// scheduler that runs due accounts one at a time per account.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// LoginRunner performs a single login attempt. *LoginService satisfies it.
type LoginRunner interface {
	Attempt(ctx context.Context, cfg LoginConfig) LoginResult
}

// SchedulerConfig holds the scheduler's static settings.
type SchedulerConfig struct {
	DataDir      string
	PollInterval time.Duration
}

// Scheduler polls for due accounts and runs at most one login per account
// at a time. Scheduled runs execute inline on the poll goroutine; manual
// triggers get their own goroutine.
type Scheduler struct {
	accounts driven.AccountStore
	runs     driven.RunStore
	vault    driven.Vault
	login    LoginRunner
	cfg      SchedulerConfig
	locks    *LockTable
	logger   *slog.Logger

	now       func() time.Time
	attemptID func() string

	done   chan struct{}
	manual sync.WaitGroup
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the scheduler's clock.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithLockTable shares a lock table with another component.
func WithLockTable(locks *LockTable) SchedulerOption {
	return func(s *Scheduler) { s.locks = locks }
}

// NewScheduler creates a Scheduler with all required dependencies.
func NewScheduler(
	accounts driven.AccountStore,
	runs driven.RunStore,
	vault driven.Vault,
	login LoginRunner,
	cfg SchedulerConfig,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		accounts:  accounts,
		runs:      runs,
		vault:     vault,
		login:     login,
		cfg:       cfg,
		locks:     NewLockTable(),
		logger:    logger,
		now:       time.Now,
		attemptID: func() string { return uuid.NewString() },
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the poll loop: one tick immediately, then one tick every
// PollInterval after the previous tick finished. Start blocks until ctx is
// canceled. A failing or panicking tick is logged and never ends the loop.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

// Done is closed once the poll loop has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every run started by Trigger has finished.
func (s *Scheduler) Wait() {
	s.manual.Wait()
}

// Running reports whether a run currently holds the account's lock.
func (s *Scheduler) Running(accountID int64) bool {
	return s.locks.Busy(accountID)
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("poll tick panicked", "panic", v)
		}
	}()

	if err := s.RunDue(ctx); err != nil {
		s.logger.Error("poll tick failed", "error", err)
	}
}

// RunDue performs one scheduling pass: it selects due accounts, bootstraps
// never-scheduled accounts, and runs every due account whose lock is free.
// Accounts whose lock is held are skipped and reconsidered next pass.
func (s *Scheduler) RunDue(ctx context.Context) error {
	start := time.Now()
	now := s.now().UTC()

	due, err := s.accounts.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due accounts: %w", err)
	}

	initialized, err := s.accounts.InitializeNextRun(ctx, now)
	if err != nil {
		return fmt.Errorf("initialize next run: %w", err)
	}
	if initialized > 0 {
		s.logger.Info("scheduled new accounts", "count", initialized)
	}

	var ran, skipped int
	for _, id := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		unlock, ok := s.locks.TryLock(id)
		if !ok {
			skipped++
			s.logger.Debug("account run already in flight", "account_id", id)
			continue
		}

		// Runs are not canceled by shutdown once started.
		s.execute(context.WithoutCancel(ctx), id, model.TriggerSchedule, unlock)
		ran++
	}

	if len(due) > 0 {
		s.logger.Info("poll cycle complete",
			"due", len(due),
			"ran", ran,
			"skipped", skipped,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}

	return nil
}

// Trigger starts a run for accountID in the background unless one is
// already in flight. It reports whether a run was started and never waits
// for it to complete.
func (s *Scheduler) Trigger(ctx context.Context, accountID int64) bool {
	unlock, ok := s.locks.TryLock(accountID)
	if !ok {
		return false
	}

	runCtx := context.WithoutCancel(ctx)
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		s.execute(runCtx, accountID, model.TriggerManual, unlock)
	}()

	return true
}

// execute runs one account and releases its lock, whatever happens.
func (s *Scheduler) execute(ctx context.Context, accountID int64, trigger model.RunTrigger, unlock func()) {
	defer unlock()
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("login run panicked", "account_id", accountID, "trigger", trigger, "panic", v)
		}
	}()

	s.runOne(ctx, accountID, trigger)
}

// runOne is the run procedure shared by scheduled and manual runs.
func (s *Scheduler) runOne(ctx context.Context, accountID int64, trigger model.RunTrigger) {
	startedAt := s.now().UTC()
	logger := s.logger.With("account_id", accountID, "trigger", trigger)

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		logger.Error("load account failed", "error", err)
		return
	}
	if account == nil || !account.Enabled {
		logger.Debug("account missing or disabled, run skipped")
		return
	}

	paths := ArtifactPaths(accountID, startedAt)
	attemptID := s.attemptID()
	logger = logger.With("attempt_id", attemptID)

	message := fmt.Sprintf("running (%s)", trigger)
	runID, err := s.runs.BeginRun(ctx, model.LoginRun{
		AccountID:           accountID,
		AttemptID:           attemptID,
		Trigger:             trigger,
		StartedAt:           startedAt,
		Message:             message,
		StatePath:           paths.State,
		ScreenshotPath:      paths.Screenshot,
		ErrorScreenshotPath: paths.ErrorScreenshot,
	}, message)
	if err != nil {
		logger.Error("begin run failed", "error", err)
		return
	}
	logger.Info("login run started", "run_id", runID, "target", account.TargetURL)

	var result LoginResult
	defer func() {
		if v := recover(); v != nil {
			logger.Error("login run panicked", "run_id", runID, "panic", v)
			result = LoginResult{
				Message: fmt.Sprintf("login run panicked: %v", v),
				States:  []LoginState{StateFailure},
			}
		}
		s.finish(ctx, logger, account, runID, startedAt, paths, result)
	}()

	result = s.attempt(ctx, account, paths)
}

// finishAttempts bounds how often FinishRun is tried for one run.
const finishAttempts = 3

// finish finalizes a begun run and reschedules its account. A failed
// FinishRun is retried so the run does not stay running.
func (s *Scheduler) finish(
	ctx context.Context,
	logger *slog.Logger,
	account *model.Account,
	runID int64,
	startedAt time.Time,
	paths RunArtifacts,
	result LoginResult,
) {
	if !result.OK && result.Message == "" {
		result.Message = "login failed"
	}
	kept := paths.reconcile(s.cfg.DataDir, result.OK)

	outcome := model.RunOutcome{
		RunID:               runID,
		AccountID:           account.ID,
		OK:                  result.OK,
		Message:             result.Message,
		FinalURL:            result.FinalURL,
		StatePath:           kept.State,
		ScreenshotPath:      kept.Screenshot,
		ErrorScreenshotPath: kept.ErrorScreenshot,
		StartedAt:           startedAt,
		FinishedAt:          s.now().UTC(),
		NextRunAt:           startedAt.Add(account.Interval()),
	}

	var err error
	for range finishAttempts {
		err = s.runs.FinishRun(ctx, outcome)
		if err == nil || errors.Is(err, driven.ErrRunAlreadyFinished) || errors.Is(err, driven.ErrRunNotFound) {
			break
		}
		logger.Warn("finish run failed, retrying", "run_id", runID, "error", err)
	}
	if err != nil {
		logger.Error("finish run failed", "run_id", runID, "error", err)
		return
	}

	attrs := []any{
		"run_id", runID,
		"ok", result.OK,
		"message", result.Message,
		"final_url", result.FinalURL,
		"next_run_at", outcome.NextRunAt,
		"duration", outcome.FinishedAt.Sub(startedAt).Round(time.Millisecond),
	}
	if result.CaptureErr != nil {
		attrs = append(attrs, "capture_error", result.CaptureErr)
	}
	if result.OK {
		logger.Info("login run finished", attrs...)
	} else {
		logger.Warn("login run failed", attrs...)
	}
}

// attempt decrypts the account secrets and performs the login.
func (s *Scheduler) attempt(ctx context.Context, account *model.Account, paths RunArtifacts) LoginResult {
	password, err := s.vault.Decrypt(account.PasswordEnc)
	if err != nil {
		return LoginResult{Message: fmt.Sprintf("decrypt password: %v", err), States: []LoginState{StateFailure}}
	}
	secret, err := s.vault.Decrypt(account.TOTPSecretEnc)
	if err != nil {
		return LoginResult{Message: fmt.Sprintf("decrypt totp secret: %v", err), States: []LoginState{StateFailure}}
	}

	return s.login.Attempt(ctx, LoginConfigFor(account, password, secret, s.cfg.DataDir, paths))
}

// LoginConfigFor resolves an account plus its decrypted secrets into a
// LoginConfig with absolute artifact paths.
func LoginConfigFor(account *model.Account, password, totpSecret, dataDir string, paths RunArtifacts) LoginConfig {
	return LoginConfig{
		Username:            account.Username,
		Password:            password,
		TOTPSecret:          totpSecret,
		LoginURL:            account.LoginURL,
		TargetURL:           account.TargetURL,
		UsernameSelector:    account.UsernameSelector,
		PasswordSelector:    account.PasswordSelector,
		SubmitSelector:      account.SubmitSelector,
		OTPSelector:         account.OTPSelector,
		OTPSubmitSelector:   account.OTPSubmitSelector,
		LoggedInSelector:    account.LoggedInSelector,
		StatePath:           Abs(dataDir, paths.State),
		ScreenshotPath:      Abs(dataDir, paths.Screenshot),
		ErrorScreenshotPath: Abs(dataDir, paths.ErrorScreenshot),
		UserAgent:           account.UserAgent,
		TimezoneID:          account.TimezoneID,
		Headless:            account.Headless,
		StartJitter:         time.Duration(account.StartJitterSeconds) * time.Second,
		NavTimeout:          account.NavTimeout(),
	}
}
