package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// Sentinel errors returned by AccountStore implementations.
var (
	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists indicates an account with the same name already exists.
	ErrAccountAlreadyExists = errors.New("account already exists")
)

// AccountStore defines the driven port for account persistence.
// Get returns (nil, nil) for a missing account; Update and Delete return
// ErrAccountNotFound instead.
type AccountStore interface {
	Create(ctx context.Context, account model.Account) (int64, error)
	Update(ctx context.Context, account model.Account) error
	Get(ctx context.Context, id int64) (*model.Account, error)
	GetByName(ctx context.Context, name string) (*model.Account, error)
	List(ctx context.Context) ([]model.Account, error)
	Delete(ctx context.Context, id int64) error

	// ListDue returns the ids of enabled accounts whose next_run_at is set and
	// not after now, oldest first.
	ListDue(ctx context.Context, now time.Time) ([]int64, error)

	// InitializeNextRun sets next_run_at = now on enabled accounts that have
	// never been scheduled and returns how many rows changed.
	InitializeNextRun(ctx context.Context, now time.Time) (int64, error)
}
