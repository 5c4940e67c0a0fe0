package sync

import "errors"

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("ledger is not reachable")
	ErrPartialFailure = errors.New("some items failed to sync")
)
