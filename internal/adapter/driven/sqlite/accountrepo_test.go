package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

func makeAccount(name string) model.Account {
	return model.Account{
		Name:          name,
		LoginURL:      "https://" + name + ".example.test/login",
		TargetURL:     "https://" + name + ".example.test/dashboard",
		Username:      "alice",
		PasswordEnc:   "cipher-password",
		TOTPSecretEnc: "cipher-secret",
		Enabled:       true,
		Headless:      true,
	}
}

func TestAccountRepo_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAccount("portal"))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "portal", got.Name)
	assert.Equal(t, "cipher-password", got.PasswordEnc)
	assert.Equal(t, model.DefaultUsernameSelector, got.UsernameSelector)
	assert.Equal(t, model.DefaultSubmitSelector, got.SubmitSelector)
	assert.Equal(t, model.DefaultTimezoneID, got.TimezoneID)
	assert.Equal(t, model.DefaultIntervalMinutes, got.IntervalMinutes)
	assert.Equal(t, model.DefaultNavTimeoutMS, got.NavTimeoutMS)
	assert.Equal(t, model.AccountStatusNever, got.LastStatus)
	assert.True(t, got.Enabled)
	assert.True(t, got.Headless)
	assert.Nil(t, got.NextRunAt)
	assert.Nil(t, got.LastRunAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAccountRepo_Create_Invalid(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)

	acc := makeAccount("portal")
	acc.TOTPSecretEnc = ""
	acc.LoginURL = " "

	_, err := repo.Create(context.Background(), acc)
	require.ErrorIs(t, err, model.ErrInvalidAccount)
	assert.Contains(t, err.Error(), "login_url")
	assert.Contains(t, err.Error(), "totp_secret")
}

func TestAccountRepo_Create_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, makeAccount("portal"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, makeAccount("portal"))
	assert.ErrorIs(t, err, driven.ErrAccountAlreadyExists)
}

func TestAccountRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	got, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountRepo_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	runs := NewRunRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAccount("portal"))
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.InitializeNextRun(ctx, start)
	require.NoError(t, err)
	runID, err := runs.BeginRun(ctx, model.LoginRun{AccountID: id, StartedAt: start}, "running (schedule)")
	require.NoError(t, err)
	require.NoError(t, runs.FinishRun(ctx, model.RunOutcome{
		RunID: runID, AccountID: id, OK: true, Message: "ok",
		StartedAt: start, FinishedAt: start.Add(time.Minute), NextRunAt: start.Add(24 * time.Hour),
	}))

	acc, err := repo.Get(ctx, id)
	require.NoError(t, err)
	acc.OTPSelector = "#otp"
	acc.IntervalMinutes = 60
	acc.Enabled = false
	require.NoError(t, repo.Update(ctx, *acc))

	got, err := repo.GetByName(ctx, "portal")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "#otp", got.OTPSelector)
	assert.Equal(t, 60, got.IntervalMinutes)
	assert.False(t, got.Enabled)
	assert.Equal(t, model.AccountStatusOK, got.LastStatus, "update must not touch the status mirror")
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, start.Add(24*time.Hour), *got.NextRunAt)
}

func TestAccountRepo_Update_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)

	acc := makeAccount("ghost")
	acc.ID = 99
	err := repo.Update(context.Background(), acc)
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	runs := NewRunRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAccount("portal"))
	require.NoError(t, err)
	_, err = runs.BeginRun(ctx, model.LoginRun{AccountID: id, StartedAt: time.Now()}, "running (manual)")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	history, err := runs.ListByAccount(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "runs are deleted with their account")

	assert.ErrorIs(t, repo.Delete(ctx, id), driven.ErrAccountNotFound)
}

func TestAccountRepo_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	for _, name := range []string{"beta", "alpha"} {
		_, err := repo.Create(ctx, makeAccount(name))
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "beta", all[0].Name)
	assert.Equal(t, "alpha", all[1].Name)
}

func TestAccountRepo_InitializeNextRunAndListDue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	enabledID, err := repo.Create(ctx, makeAccount("enabled"))
	require.NoError(t, err)
	disabled := makeAccount("disabled")
	disabled.Enabled = false
	disabledID, err := repo.Create(ctx, disabled)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	due, err := repo.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due, "unscheduled accounts are never due")

	n, err := repo.InitializeNextRun(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.InitializeNextRun(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "already scheduled accounts are left alone")

	got, err := repo.Get(ctx, enabledID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, now, *got.NextRunAt)

	off, err := repo.Get(ctx, disabledID)
	require.NoError(t, err)
	assert.Nil(t, off.NextRunAt)

	due, err = repo.ListDue(ctx, now.Add(-time.Microsecond))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.ListDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{enabledID}, due)
}

func TestAccountRepo_ListDue_OrdersOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := repo.Create(ctx, makeAccount("first"))
	require.NoError(t, err)
	second, err := repo.Create(ctx, makeAccount("second"))
	require.NoError(t, err)

	_, err = db.Writer.ExecContext(ctx, `UPDATE accounts SET next_run_at = ? WHERE id = ?`, formatTime(base.Add(time.Hour)), first)
	require.NoError(t, err)
	_, err = db.Writer.ExecContext(ctx, `UPDATE accounts SET next_run_at = ? WHERE id = ?`, formatTime(base), second)
	require.NoError(t, err)

	due, err := repo.ListDue(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{second, first}, due)
}
