package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port interface.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, name, login_url, target_url, username, password_enc, totp_secret_enc,
	username_selector, password_selector, submit_selector, otp_selector, otp_submit_selector, logged_in_selector,
	enabled, interval_minutes, start_jitter_seconds, user_agent, timezone_id, nav_timeout_ms, headless,
	last_run_at, next_run_at, last_status, last_message, created_at, updated_at`

// Create validates and inserts a new account with defaults applied. The
// scheduling cursor starts empty; the scheduler bootstraps next_run_at.
func (r *AccountRepo) Create(ctx context.Context, account model.Account) (int64, error) {
	account.ApplyDefaults()
	if err := account.Validate(); err != nil {
		return 0, err
	}

	const query = `INSERT INTO accounts (
		name, login_url, target_url, username, password_enc, totp_secret_enc,
		username_selector, password_selector, submit_selector, otp_selector, otp_submit_selector, logged_in_selector,
		enabled, interval_minutes, start_jitter_seconds, user_agent, timezone_id, nav_timeout_ms, headless,
		last_status, last_message, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := formatTime(time.Now())
	result, err := r.db.Writer.ExecContext(ctx, query,
		account.Name, account.LoginURL, account.TargetURL, account.Username,
		account.PasswordEnc, account.TOTPSecretEnc,
		account.UsernameSelector, account.PasswordSelector, account.SubmitSelector,
		account.OTPSelector, account.OTPSubmitSelector, account.LoggedInSelector,
		account.Enabled, account.IntervalMinutes, account.StartJitterSeconds,
		account.UserAgent, account.TimezoneID, account.NavTimeoutMS, account.Headless,
		model.AccountStatusNever, "", now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, fmt.Errorf("create account %s: %w", account.Name, driven.ErrAccountAlreadyExists)
		}
		return 0, fmt.Errorf("create account %s: %w", account.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get account id: %w", err)
	}
	return id, nil
}

// Update rewrites the configuration columns of an existing account. The
// scheduling cursor and status mirror are owned by the scheduler and left
// untouched.
func (r *AccountRepo) Update(ctx context.Context, account model.Account) error {
	account.ApplyDefaults()
	if err := account.Validate(); err != nil {
		return err
	}

	const query = `UPDATE accounts SET
		name = ?, login_url = ?, target_url = ?, username = ?, password_enc = ?, totp_secret_enc = ?,
		username_selector = ?, password_selector = ?, submit_selector = ?,
		otp_selector = ?, otp_submit_selector = ?, logged_in_selector = ?,
		enabled = ?, interval_minutes = ?, start_jitter_seconds = ?,
		user_agent = ?, timezone_id = ?, nav_timeout_ms = ?, headless = ?,
		updated_at = ?
	WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		account.Name, account.LoginURL, account.TargetURL, account.Username,
		account.PasswordEnc, account.TOTPSecretEnc,
		account.UsernameSelector, account.PasswordSelector, account.SubmitSelector,
		account.OTPSelector, account.OTPSubmitSelector, account.LoggedInSelector,
		account.Enabled, account.IntervalMinutes, account.StartJitterSeconds,
		account.UserAgent, account.TimezoneID, account.NavTimeoutMS, account.Headless,
		formatTime(time.Now()), account.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("update account %s: %w", account.Name, driven.ErrAccountAlreadyExists)
		}
		return fmt.Errorf("update account %d: %w", account.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update account %d: %w", account.ID, driven.ErrAccountNotFound)
	}

	return nil
}

// Get retrieves an account by id. Returns nil, nil if it does not exist.
func (r *AccountRepo) Get(ctx context.Context, id int64) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	account, err := scanAccount(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return account, nil
}

// GetByName retrieves an account by its unique name. Returns nil, nil if it
// does not exist.
func (r *AccountRepo) GetByName(ctx context.Context, name string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE name = ?`

	account, err := scanAccount(r.db.Reader.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", name, err)
	}
	return account, nil
}

// List returns all accounts ordered by id.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// Delete removes an account and, by cascade, its run history.
func (r *AccountRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM accounts WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete account %d: %w", id, driven.ErrAccountNotFound)
	}

	return nil
}

// ListDue returns the ids of enabled accounts whose next_run_at is at or
// before now, oldest due first.
func (r *AccountRepo) ListDue(ctx context.Context, now time.Time) ([]int64, error) {
	const query = `SELECT id FROM accounts
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due accounts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due account: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due accounts: %w", err)
	}

	return ids, nil
}

// InitializeNextRun schedules never-scheduled enabled accounts at now.
func (r *AccountRepo) InitializeNextRun(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE accounts SET next_run_at = ?, updated_at = ?
		WHERE enabled = 1 AND next_run_at IS NULL`

	ts := formatTime(now)
	result, err := r.db.Writer.ExecContext(ctx, query, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("initialize next run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

func scanAccount(s scanner) (*model.Account, error) {
	var a model.Account
	var lastRunAt, nextRunAt sql.NullString
	var lastStatus, createdAt, updatedAt string

	err := s.Scan(
		&a.ID, &a.Name, &a.LoginURL, &a.TargetURL, &a.Username, &a.PasswordEnc, &a.TOTPSecretEnc,
		&a.UsernameSelector, &a.PasswordSelector, &a.SubmitSelector,
		&a.OTPSelector, &a.OTPSubmitSelector, &a.LoggedInSelector,
		&a.Enabled, &a.IntervalMinutes, &a.StartJitterSeconds,
		&a.UserAgent, &a.TimezoneID, &a.NavTimeoutMS, &a.Headless,
		&lastRunAt, &nextRunAt, &lastStatus, &a.LastMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.LastStatus = model.AccountStatus(lastStatus)

	if a.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("parse last_run_at: %w", err)
	}
	if a.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return nil, fmt.Errorf("parse next_run_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &a, nil
}
