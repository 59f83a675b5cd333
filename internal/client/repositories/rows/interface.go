// Package rows persists mirrored entity rows in the local SQLite store.
//
// Every mirrored table shares one shape: id, the table's typed columns, a
// data JSON column for the remaining domain fields, version, updated_at and
// deleted_at. Rows are never physically removed except by DeleteAll, which
// is reserved for bootstrap and sign-out.
package rows

import (
	"context"

	"github.com/dmitrijs2005/estisync/internal/client/models"
)

// Repository describes reads and writes of mirrored rows. All methods return
// common.ErrUnknownTable for tables outside models.Tables.
type Repository interface {
	// Get returns the row with id, tombstones included, or common.ErrNotFound.
	Get(ctx context.Context, table, id string) (models.Row, error)

	// ListActive returns rows with deleted_at IS NULL, ordered by id.
	ListActive(ctx context.Context, table string) ([]models.Row, error)

	// ListAll returns every row including tombstones, ordered by id.
	ListAll(ctx context.Context, table string) ([]models.Row, error)

	// ListByParent returns the rows whose parent column equals parentID.
	ListByParent(ctx context.Context, table, parentID string, includeDeleted bool) ([]models.Row, error)

	// Upsert inserts the row or replaces the stored one with the same id.
	Upsert(ctx context.Context, table string, row models.Row) error

	// SoftDelete marks a live row deleted, bumping its version by one.
	// Returns common.ErrNotFound when there is no live row with id.
	SoftDelete(ctx context.Context, table, id, deletedAt string) error

	// SetLocalURI records (or clears, with nil) the cached file of a photo.
	SetLocalURI(ctx context.Context, id string, localURI *string) error

	// DeleteAll physically removes every row of table.
	DeleteAll(ctx context.Context, table string) error

	// Count returns the number of rows, optionally including tombstones.
	Count(ctx context.Context, table string, includeDeleted bool) (int, error)
}
