// Package services contains the application services the UI layer calls:
// local mutations that feed the change queue, and the sync trigger points.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/rows"
	"github.com/dmitrijs2005/estisync/internal/client/store"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/dbx"
	"github.com/dmitrijs2005/estisync/internal/logging"
	"github.com/dmitrijs2005/estisync/internal/timex"
)

// Trigger requests a sync cycle without waiting for it. *engine.Scheduler
// satisfies it.
type Trigger interface {
	Trigger()
}

// MutationService applies local mutations.
//
// Contract:
//   - EnqueueChange: append a change for a row the caller already wrote.
//   - Save: write a row and queue it, assigning the next version.
//   - Delete: tombstone a row and its descendants, queueing one delete each.
//
// A failed local write returns an error and queues nothing. After a
// successful mutation a sync cycle is requested.
type MutationService interface {
	EnqueueChange(ctx context.Context, table string, op models.Operation, payload models.Row) (int64, error)
	Save(ctx context.Context, table string, row models.Row) (models.Row, error)
	Delete(ctx context.Context, table, id string) (int, error)
}

type mutationService struct {
	store   *store.Store
	trigger Trigger
	clock   timex.Clock
	logger  logging.Logger
}

// NewMutationService builds a MutationService. trigger may be nil.
func NewMutationService(s *store.Store, trigger Trigger, clock timex.Clock, logger logging.Logger) MutationService {
	if clock == nil {
		clock = timex.UTC
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &mutationService{store: s, trigger: trigger, clock: clock, logger: logger}
}

func (s *mutationService) requestSync() {
	if s.trigger != nil {
		s.trigger.Trigger()
	}
}

func (s *mutationService) EnqueueChange(ctx context.Context, table string, op models.Operation, payload models.Row) (int64, error) {
	c := models.Change{Table: table, Operation: op, Payload: payload, EnqueuedAt: timex.Stamp(s.clock())}
	seq, err := s.store.Queue(s.store.DB()).Enqueue(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("enqueue error: %w", err)
	}
	s.requestSync()
	return seq, nil
}

// Save assigns version prev+1 (1 for a new row, with a fresh id when empty),
// stamps updated_at and the current user, and commits row and queue entry
// together. Device-only columns missing from row keep their stored values.
func (s *mutationService) Save(ctx context.Context, table string, row models.Row) (models.Row, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return models.Row{}, err
	}
	row = row.Clone()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := timex.Stamp(s.clock())

	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Rows(tx)
		op := models.OpInsert
		row.Version = 1

		cur, err := repo.Get(ctx, t.Name, row.ID)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return err
		case cur.IsTombstone():
			return fmt.Errorf("%w: %s[%s] is deleted", common.ErrNotFound, t.Name, row.ID)
		default:
			op = models.OpUpdate
			row.Version = cur.Version + 1
			for _, c := range t.LocalOnly {
				if _, ok := row.Fields[c]; !ok && cur.Fields[c] != nil {
					row.Set(c, cur.Fields[c])
				}
			}
		}

		if row.String(models.ColUserID) == "" {
			if err := s.stampOwner(ctx, tx, &row); err != nil {
				return err
			}
		}
		row.UpdatedAt = now
		row.DeletedAt = nil

		if err := repo.Upsert(ctx, t.Name, row); err != nil {
			return err
		}
		_, err = s.store.Queue(tx).Enqueue(ctx, models.Change{Table: t.Name, Operation: op, Payload: row, EnqueuedAt: now})
		return err
	})
	if err != nil {
		return models.Row{}, fmt.Errorf("saving error: %w", err)
	}

	s.logger.Debug(ctx, "row saved", "table", t.Name, "id", row.ID, "version", row.Version)
	s.requestSync()
	return row, nil
}

func (s *mutationService) stampOwner(ctx context.Context, tx dbx.DBTX, row *models.Row) error {
	id, err := s.store.Metadata(tx).Get(ctx, metadata.KeyUserID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	row.Set(models.ColUserID, id)
	return nil
}

// Delete tombstones the live row table[id] and, recursively, every live row
// that references it, in one transaction. It returns the number of rows
// deleted.
func (s *mutationService) Delete(ctx context.Context, table, id string) (int, error) {
	if _, err := models.LookupTable(table); err != nil {
		return 0, err
	}
	now := timex.Stamp(s.clock())

	var n int
	err := s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.tombstone(ctx, s.store.Rows(tx), s.store.Queue(tx), table, id, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("error deleting %s[%s]: %w", table, id, err)
	}

	s.logger.Debug(ctx, "rows deleted", "table", table, "id", id, "count", n)
	s.requestSync()
	return n, nil
}

func (s *mutationService) tombstone(ctx context.Context, repo rows.Repository, q queue.Repository, table, id, at string) (int, error) {
	if err := repo.SoftDelete(ctx, table, id, at); err != nil {
		return 0, err
	}
	row, err := repo.Get(ctx, table, id)
	if err != nil {
		return 0, err
	}
	if _, err := q.Enqueue(ctx, models.Change{Table: table, Operation: models.OpDelete, Payload: row, EnqueuedAt: at}); err != nil {
		return 0, err
	}

	n := 1
	for _, child := range models.ChildrenOf(table) {
		kids, err := repo.ListByParent(ctx, child.Name, id, false)
		if err != nil {
			return 0, err
		}
		for _, k := range kids {
			m, err := s.tombstone(ctx, repo, q, child.Name, k.ID, at)
			if err != nil {
				return 0, err
			}
			n += m
		}
	}
	return n, nil
}
