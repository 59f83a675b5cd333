package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/rows"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/dbx"
)

type mergeResult int

const (
	mergeKept mergeResult = iota
	mergeInserted
	mergeOverwritten
	mergeAdopted
)

func (m mergeResult) String() string {
	switch m {
	case mergeInserted:
		return "inserted"
	case mergeOverwritten:
		return "overwritten"
	case mergeAdopted:
		return "adopted"
	default:
		return "kept"
	}
}

// pull fetches every table for userID and merges it. A failing table is
// recorded in the report and does not stop the others.
func (e *Engine) pull(ctx context.Context, userID string, rep *Report) {
	for _, t := range models.Tables {
		if err := ctx.Err(); err != nil {
			rep.addError("pull", err)
			return
		}
		if err := e.pullTable(ctx, t, userID, rep); err != nil {
			e.logger.Warn(ctx, "pull failed", "table", t.Name, "error", err)
			rep.addError(t.Name, err)
		}
	}
}

func (e *Engine) pullTable(ctx context.Context, t models.Table, userID string, rep *Report) error {
	incoming, err := e.remote.Fetch(ctx, t.Name, remote.Filter{UserID: userID})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	rep.Pulled[t.Name] = len(incoming)

	var merged, superseded int
	err = e.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		merged, superseded = 0, 0
		repo, q := e.store.Rows(tx), e.store.Queue(tx)
		for _, r := range incoming {
			res, n, err := mergeRow(ctx, repo, q, t, r)
			if err != nil {
				if errors.Is(err, common.ErrInvalidRow) {
					e.logger.Warn(ctx, "skipping invalid remote row", "table", t.Name, "id", r.ID, "error", err)
					continue
				}
				return fmt.Errorf("merge %s[%s]: %w", t.Name, r.ID, err)
			}
			if res != mergeKept {
				merged++
				e.logger.Debug(ctx, "row merged", "table", t.Name, "id", r.ID, "result", res.String(), "version", r.Version)
			}
			superseded += int(n)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rep.Merged[t.Name] = merged
	rep.Superseded += superseded
	return nil
}

// mergeRow applies the highest-version-wins rule to one remote row. Ties
// keep the local copy, except that a tied row with nothing queued for it is
// replaced by the remote one: the local edit was already pushed and another
// device's push of the same version landed after it.
func mergeRow(ctx context.Context, repo rows.Repository, q queue.Repository, t models.Table, incoming models.Row) (mergeResult, int64, error) {
	if err := incoming.Validate(); err != nil {
		return mergeKept, 0, err
	}
	incoming = incoming.WithoutLocal(t)

	local, err := repo.Get(ctx, t.Name, incoming.ID)
	if errors.Is(err, common.ErrNotFound) {
		return mergeInserted, 0, repo.Upsert(ctx, t.Name, incoming)
	}
	if err != nil {
		return mergeKept, 0, err
	}

	switch {
	case incoming.Version > local.Version:
		if err := repo.Upsert(ctx, t.Name, withLocalColumns(t, incoming, local)); err != nil {
			return mergeKept, 0, err
		}
		n, err := q.RemoveSuperseded(ctx, t.Name, incoming.ID, incoming.Version)
		return mergeOverwritten, n, err

	case incoming.Version == local.Version:
		pending, err := q.HasPending(ctx, t.Name, incoming.ID)
		if err != nil || pending {
			return mergeKept, 0, err
		}
		same, err := sameContent(local.WithoutLocal(t), incoming)
		if err != nil || same {
			return mergeKept, 0, err
		}
		return mergeAdopted, 0, repo.Upsert(ctx, t.Name, withLocalColumns(t, incoming, local))
	}
	return mergeKept, 0, nil
}

// withLocalColumns carries the device-only columns of local over to
// incoming. A photo keeps its cached file only while the remote uri is
// unchanged.
func withLocalColumns(t models.Table, incoming, local models.Row) models.Row {
	out := incoming.Clone()
	for _, c := range t.LocalOnly {
		v, ok := local.Fields[c]
		if !ok || v == nil {
			continue
		}
		if c == models.ColLocalURI && models.PhotoURI(local) != models.PhotoURI(incoming) {
			continue
		}
		out.Set(c, v)
	}
	return out
}

// sameContent compares two rows as stored, where a nil field and an absent
// one are the same.
func sameContent(a, b models.Row) (bool, error) {
	ja, err := json.Marshal(dropNil(a))
	if err != nil {
		return false, err
	}
	jb, err := json.Marshal(dropNil(b))
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

func dropNil(r models.Row) models.Row {
	out := r.Clone()
	for k, v := range out.Fields {
		if v == nil {
			delete(out.Fields, k)
		}
	}
	return out
}
