package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, account_id, attempt_id, run_trigger, started_at, finished_at, ok, message,
	final_url, state_path, screenshot_path, error_screenshot_path`

// BeginRun marks the account running and inserts the run row in a single
// transaction.
func (r *RunRepo) BeginRun(ctx context.Context, run model.LoginRun, accountMessage string) (int64, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const markRunning = `UPDATE accounts SET last_status = ?, last_message = ?, updated_at = ? WHERE id = ?`
	result, err := tx.ExecContext(ctx, markRunning,
		model.AccountStatusRunning, accountMessage, formatTime(time.Now()), run.AccountID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark account %d running: %w", run.AccountID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("begin run for account %d: %w", run.AccountID, driven.ErrAccountNotFound)
	}

	trigger := run.Trigger
	if trigger == "" {
		trigger = model.TriggerSchedule
	}

	const insertRun = `INSERT INTO login_runs (
		account_id, attempt_id, run_trigger, started_at, message, state_path, screenshot_path, error_screenshot_path
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err = tx.ExecContext(ctx, insertRun,
		run.AccountID, run.AttemptID, trigger, formatTime(run.StartedAt), run.Message,
		run.StatePath, run.ScreenshotPath, run.ErrorScreenshotPath,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run for account %d: %w", run.AccountID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get run id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit begin run: %w", err)
	}
	return id, nil
}

// FinishRun finalizes the run and mirrors its outcome onto the account in a
// single transaction. A run can be finalized only once. The stored
// next_run_at is only ever moved forward.
func (r *RunRepo) FinishRun(ctx context.Context, outcome model.RunOutcome) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const finalize = `UPDATE login_runs SET
		finished_at = ?, ok = ?, message = ?, final_url = ?,
		state_path = ?, screenshot_path = ?, error_screenshot_path = ?
	WHERE id = ? AND finished_at IS NULL`
	result, err := tx.ExecContext(ctx, finalize,
		formatTime(outcome.FinishedAt), outcome.OK, outcome.Message, outcome.FinalURL,
		outcome.StatePath, outcome.ScreenshotPath, outcome.ErrorScreenshotPath,
		outcome.RunID,
	)
	if err != nil {
		return fmt.Errorf("finalize run %d: %w", outcome.RunID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM login_runs WHERE id = ?`, outcome.RunID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("finalize run %d: %w", outcome.RunID, err)
		}
		if exists == 0 {
			return fmt.Errorf("finalize run %d: %w", outcome.RunID, driven.ErrRunNotFound)
		}
		return fmt.Errorf("finalize run %d: %w", outcome.RunID, driven.ErrRunAlreadyFinished)
	}

	const mirror = `UPDATE accounts SET
		last_run_at = ?, last_status = ?, last_message = ?,
		next_run_at = CASE WHEN next_run_at IS NOT NULL AND next_run_at > ? THEN next_run_at ELSE ? END,
		updated_at = ?
	WHERE id = ?`
	next := formatTime(outcome.NextRunAt)
	if _, err := tx.ExecContext(ctx, mirror,
		formatTime(outcome.StartedAt), model.StatusFor(outcome.OK), outcome.Message,
		next, next,
		formatTime(time.Now()), outcome.AccountID,
	); err != nil {
		return fmt.Errorf("update account %d after run: %w", outcome.AccountID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// Get retrieves a run by id. Returns nil, nil if it does not exist.
func (r *RunRepo) Get(ctx context.Context, id int64) (*model.LoginRun, error) {
	query := `SELECT ` + runColumns + ` FROM login_runs WHERE id = ?`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return run, nil
}

// ListByAccount returns up to limit runs of an account, newest first.
func (r *RunRepo) ListByAccount(ctx context.Context, accountID int64, limit int) ([]model.LoginRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM login_runs WHERE account_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var runs []model.LoginRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(s scanner) (*model.LoginRun, error) {
	var run model.LoginRun
	var trigger, startedAt string
	var finishedAt sql.NullString

	err := s.Scan(
		&run.ID, &run.AccountID, &run.AttemptID, &trigger, &startedAt, &finishedAt, &run.OK, &run.Message,
		&run.FinalURL, &run.StatePath, &run.ScreenshotPath, &run.ErrorScreenshotPath,
	)
	if err != nil {
		return nil, err
	}
	run.Trigger = model.RunTrigger(trigger)

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &run, nil
}
