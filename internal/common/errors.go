// Package common defines sentinel errors shared by the local store, the
// remote adapters and the sync engine. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Remote-level errors.
	ErrVersionConflict = errors.New("version conflict")
	ErrUnavailable     = errors.New("remote unavailable")

	// Validation errors.
	ErrUnknownTable     = errors.New("unknown table")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidRow       = errors.New("invalid row")

	// Sync flow control.
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrSyncIncomplete  = errors.New("sync incomplete")
	ErrNotBootstrapped = errors.New("local store is not bootstrapped")

	// Session errors; these only gate binary downloads.
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
)
