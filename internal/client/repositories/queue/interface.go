// Package queue stores the durable FIFO log of local mutations that still
// have to be pushed to the remote service.
package queue

import (
	"context"

	"github.com/dmitrijs2005/estisync/internal/client/models"
)

// Repository is the sync_queue table.
type Repository interface {
	// Enqueue appends c and returns its sequence number.
	Enqueue(ctx context.Context, c models.Change) (int64, error)

	// Pending returns all entries in enqueue order.
	Pending(ctx context.Context) ([]models.Change, error)

	// Remove deletes one entry after the remote accepted it.
	Remove(ctx context.Context, seq int64) error

	// RemoveSuperseded drops the entries for (table, id) whose payload
	// version is <= version and reports how many were removed.
	RemoveSuperseded(ctx context.Context, table, id string, version int64) (int64, error)

	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, seq int64) (int, error)

	// HasPending reports whether any entry targets (table, id).
	HasPending(ctx context.Context, table, id string) (bool, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
