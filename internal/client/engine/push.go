package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/timex"
)

// push drains the queue in enqueue order. Once an entry for a (table, id)
// stays queued, later entries for the same row are skipped this cycle so the
// remote never sees them out of order.
func (e *Engine) push(ctx context.Context, userID string, rep *Report) error {
	q := e.store.Queue(e.store.DB())
	pending, err := q.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync queue: %w", err)
	}

	blocked := map[string]struct{}{}
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			rep.PushAborted = true
			return fmt.Errorf("%w: %w", common.ErrSyncIncomplete, err)
		}
		key := c.Table + "/" + c.Payload.ID
		if _, ok := blocked[key]; ok {
			continue
		}
		log := e.logger.With("seq", c.Seq, "table", c.Table, "id", c.Payload.ID, "op", c.Operation)

		row, err := e.outgoing(c, userID)
		if err == nil {
			err = e.remote.Upsert(ctx, c.Table, row)
		}

		switch {
		case err == nil:
			if err := q.Remove(ctx, c.Seq); err != nil && !errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("failed to dequeue %d: %w", c.Seq, err)
			}
			rep.Pushed++
			log.Debug(ctx, "change pushed", "version", row.Version)

		case errors.Is(err, common.ErrUnavailable):
			rep.PushAborted = true
			return fmt.Errorf("%w: push of %s[%s] failed: %w", common.ErrSyncIncomplete, c.Table, c.Payload.ID, err)

		case errors.Is(err, common.ErrVersionConflict):
			blocked[key] = struct{}{}
			rep.Conflicts++
			log.Info(ctx, "push conflict, waiting for pull", "version", c.Payload.Version, "error", err)

		default:
			blocked[key] = struct{}{}
			rep.Rejected++
			attempts, ierr := q.IncrementAttempts(ctx, c.Seq)
			if ierr != nil {
				return fmt.Errorf("failed to record push attempt %d: %w", c.Seq, ierr)
			}
			if attempts < e.opts.MaxPushAttempts {
				log.Warn(ctx, "push rejected", "attempts", attempts, "error", err)
				continue
			}
			if err := q.Remove(ctx, c.Seq); err != nil && !errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("failed to drop %d: %w", c.Seq, err)
			}
			rep.Dropped++
			log.Error(ctx, "push dropped after repeated rejection", "attempts", attempts, "error", err)
		}
	}
	return nil
}

// outgoing builds the row sent for c: owned by userID, without local-only
// columns, and carrying deleted_at for deletes.
func (e *Engine) outgoing(c models.Change, userID string) (models.Row, error) {
	t, err := models.LookupTable(c.Table)
	if err != nil {
		return models.Row{}, err
	}
	row := c.Payload.Clone().WithoutLocal(t)
	if row.String(models.ColUserID) == "" {
		row.Set(models.ColUserID, userID)
	}
	if c.Operation == models.OpDelete && row.DeletedAt == nil {
		at := row.UpdatedAt
		if at == "" {
			at = timex.Stamp(e.clock())
		}
		row.DeletedAt = &at
	}
	if row.UpdatedAt == "" {
		row.UpdatedAt = timex.Stamp(e.clock())
	}
	return row, row.Validate()
}
