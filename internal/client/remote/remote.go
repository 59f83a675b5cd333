// Package remote defines the contract of the multi-tenant Remote Data
// Service the sync engine talks to. Adapters live in subpackages.
//
// Every adapter honours the same rules:
//
//   - Upsert stores the row when absent, or replaces the stored row when the
//     incoming version is >= the stored one. A lower version fails with
//     common.ErrVersionConflict. Re-applying the same version is a no-op.
//   - A row owned by another user is never overwritten; that fails with
//     common.ErrInvalidRow.
//   - Transport failures (unreachable backend, timeouts, throttling) are
//     wrapped with common.ErrUnavailable so callers can abort a phase.
//   - Deletes are ordinary upserts of a tombstone.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/common"
)

// Filter selects rows of one table.
type Filter struct {
	// UserID is the owning user; required.
	UserID string
	// ParentID, when set, restricts to rows whose parent column matches.
	ParentID string
}

// Service is the Remote Data Service.
type Service interface {
	// Fetch returns every row of table matching f, tombstones included.
	Fetch(ctx context.Context, table string, f Filter) ([]models.Row, error)
	// Upsert writes row by id under the optimistic-concurrency rule.
	Upsert(ctx context.Context, table string, row models.Row) error
}

// ValidateUpsert runs the checks every adapter applies before writing and
// returns the table descriptor and the owning user.
func ValidateUpsert(table string, row models.Row) (models.Table, string, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return models.Table{}, "", err
	}
	if err := row.Validate(); err != nil {
		return models.Table{}, "", err
	}
	owner := row.String(models.ColUserID)
	if owner == "" {
		return models.Table{}, "", fmt.Errorf("%w: %s[%s] has no %s", common.ErrInvalidRow, table, row.ID, models.ColUserID)
	}
	return t, owner, nil
}

// ValidateFetch checks a fetch request.
func ValidateFetch(table string, f Filter) (models.Table, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return models.Table{}, err
	}
	if f.UserID == "" {
		return models.Table{}, errors.New("fetch requires a user id")
	}
	if f.ParentID != "" && t.Parent == "" {
		return models.Table{}, fmt.Errorf("table %s has no parent column", table)
	}
	return t, nil
}

// ErrOwnerMismatch builds the error for writes against another user's row.
func ErrOwnerMismatch(table, id string) error {
	return fmt.Errorf("%w: %s[%s] belongs to another user", common.ErrInvalidRow, table, id)
}

// ErrConflict builds the optimistic-concurrency rejection.
func ErrConflict(table, id string, incoming, stored int64) error {
	return fmt.Errorf("%w: %s[%s] incoming version %d < stored %d", common.ErrVersionConflict, table, id, incoming, stored)
}

// Unavailable marks err as a transport failure.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, common.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
}
