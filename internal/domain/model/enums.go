package model

// AccountStatus mirrors the outcome of the most recent run on the account row.
type AccountStatus string

const (
	AccountStatusNever   AccountStatus = "never"
	AccountStatusRunning AccountStatus = "running"
	AccountStatusOK      AccountStatus = "ok"
	AccountStatusError   AccountStatus = "error"
)

// StatusFor maps a run outcome to the account status mirror.
func StatusFor(ok bool) AccountStatus {
	if ok {
		return AccountStatusOK
	}
	return AccountStatusError
}

// RunTrigger records what started a login run.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule" // Picked up by the poll loop.
	TriggerManual   RunTrigger = "manual"   // Started through Trigger (API or CLI).
)
