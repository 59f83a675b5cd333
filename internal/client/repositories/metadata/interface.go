// Package metadata stores small device-level facts (signed-in user, last
// sync and bootstrap times) as key/value pairs.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyUserID          = "user_id"
	KeyLastSyncAt      = "last_sync_at"
	KeyLastBootstrapAt = "last_bootstrap_at"
)

type Repository interface {
	// Get returns the value stored under key or common.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string]string, error)
	Clear(ctx context.Context) error
}
