package application

import "sync"

// LockTable hands out one mutex per account id. Entries are created on first
// use and never removed, so the table grows to the number of distinct
// accounts ever run in this process.
type LockTable struct {
	locks sync.Map // int64 -> *sync.Mutex
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{}
}

// TryLock acquires the account's lock without blocking. On success the
// caller must invoke the returned unlock func exactly once.
func (t *LockTable) TryLock(accountID int64) (unlock func(), ok bool) {
	mu := t.get(accountID)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// Busy reports whether a run currently holds the account's lock.
func (t *LockTable) Busy(accountID int64) bool {
	mu := t.get(accountID)
	if mu.TryLock() {
		mu.Unlock()
		return false
	}
	return true
}

func (t *LockTable) get(accountID int64) *sync.Mutex {
	if mu, ok := t.locks.Load(accountID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := t.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
