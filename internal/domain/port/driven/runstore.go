package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// ErrRunAlreadyFinished is returned when a run is finalized a second time.
var ErrRunAlreadyFinished = errors.New("login run already finished")

// ErrRunNotFound indicates the requested login run does not exist.
var ErrRunNotFound = errors.New("login run not found")

// RunStore defines the driven port for login run persistence. BeginRun and
// FinishRun each apply the run row and the account status mirror atomically.
type RunStore interface {
	// BeginRun inserts run in the running state and marks its account as
	// running with the given message. Returns the new run id.
	BeginRun(ctx context.Context, run model.LoginRun, accountMessage string) (int64, error)

	// FinishRun finalizes the run and updates the account's last_* fields and
	// next_run_at. next_run_at never moves backwards.
	FinishRun(ctx context.Context, outcome model.RunOutcome) error

	Get(ctx context.Context, id int64) (*model.LoginRun, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]model.LoginRun, error)
}
