package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/client/session"
	"github.com/dmitrijs2005/estisync/internal/dbx"
	"github.com/dmitrijs2005/estisync/internal/timex"
)

// Bootstrap replaces every mirrored table with the remote rows of userID and
// clears the queue. Tables are fetched in parallel; any fetch error aborts
// before the local store is touched. Photo downloads are skipped when no
// usable session exists; orphaned cache files are always collected.
func (e *Engine) Bootstrap(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, errors.New("bootstrap requires a user id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := newReport(e.clock())
	log := e.logger.With("user_id", userID)

	fetched := make([][]models.Row, len(models.Tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range models.Tables {
		g.Go(func() error {
			rows, err := e.remote.Fetch(gctx, t.Name, remote.Filter{UserID: userID})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", t.Name, err)
			}
			fetched[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.observeBootstrap(OutcomeError)
		log.Error(ctx, "bootstrap aborted", "error", err)
		return nil, fmt.Errorf("bootstrap aborted: %w", err)
	}

	err := e.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := e.store.Rows(tx)
		for i, t := range models.Tables {
			if err := repo.DeleteAll(ctx, t.Name); err != nil {
				return err
			}
			for _, r := range fetched[i] {
				if err := r.Validate(); err != nil {
					log.Warn(ctx, "skipping invalid remote row", "table", t.Name, "id", r.ID, "error", err)
					continue
				}
				if err := repo.Upsert(ctx, t.Name, r.WithoutLocal(t)); err != nil {
					return fmt.Errorf("store %s[%s]: %w", t.Name, r.ID, err)
				}
				rep.Merged[t.Name]++
			}
			rep.Pulled[t.Name] = len(fetched[i])
		}
		if err := e.store.Queue(tx).Clear(ctx); err != nil {
			return err
		}
		meta := e.store.Metadata(tx)
		if err := meta.Set(ctx, metadata.KeyUserID, userID); err != nil {
			return err
		}
		return meta.Set(ctx, metadata.KeyLastBootstrapAt, timex.Stamp(e.clock()))
	})
	if err != nil {
		e.metrics.observeBootstrap(OutcomeError)
		return nil, fmt.Errorf("bootstrap failed to replace local data: %w", err)
	}
	e.refreshQueueDepth(ctx)

	if e.assets != nil {
		download := true
		if _, err := session.Resolve(ctx, e.session, e.clock()); err != nil {
			log.Warn(ctx, "bootstrap without photo downloads", "reason", err)
			download = false
			rep.PhotosSkipped = true
		}
		st, err := e.reconcile(ctx, assets.Options{Download: download, CollectGarbage: true})
		rep.Photos = st
		e.metrics.observePhotos(st)
		if err != nil {
			rep.addError("photos", err)
		}
	}

	rep.FinishedAt = e.clock()
	e.metrics.observeBootstrap(OutcomeOK)
	log.Info(ctx, "bootstrap finished",
		"rows", rep.MergedTotal(),
		"photos_downloaded", rep.Photos.Downloaded,
		"photos_collected", rep.Photos.Collected,
		"photos_skipped", rep.PhotosSkipped)
	return rep, nil
}
