// Package engine runs sync cycles between the Local Store and the Remote
// Data Service: push queued changes, pull and merge remote rows, then
// reconcile the photo cache. It also owns bootstrap and local data wipes.
//
// Every operation that touches the queue, the mirrored tables or the cache
// holds the engine lock, so at most one of them runs at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/client/session"
	"github.com/dmitrijs2005/estisync/internal/client/store"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/dbx"
	"github.com/dmitrijs2005/estisync/internal/logging"
	"github.com/dmitrijs2005/estisync/internal/timex"
)

// DefaultMaxPushAttempts is used when Options.MaxPushAttempts is zero.
const DefaultMaxPushAttempts = 5

// Deps are the collaborators of an Engine. Store and Remote are required.
type Deps struct {
	Store   *store.Store
	Remote  remote.Service
	Assets  *assets.Reconciler
	Session session.Provider
	Logger  logging.Logger
	Clock   timex.Clock
	Metrics *Metrics
}

type Options struct {
	// MaxPushAttempts bounds how often a rejected (non-conflict) entry is
	// retried before it is dropped.
	MaxPushAttempts int
}

type Engine struct {
	store   *store.Store
	remote  remote.Service
	assets  *assets.Reconciler
	session session.Provider
	logger  logging.Logger
	clock   timex.Clock
	metrics *Metrics
	opts    Options

	mu sync.Mutex
}

func New(d Deps, opts Options) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if d.Remote == nil {
		return nil, errors.New("engine: remote service is required")
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Clock == nil {
		d.Clock = timex.UTC
	}
	if opts.MaxPushAttempts <= 0 {
		opts.MaxPushAttempts = DefaultMaxPushAttempts
	}
	return &Engine{
		store:   d.Store,
		remote:  d.Remote,
		assets:  d.Assets,
		session: d.Session,
		logger:  d.Logger,
		clock:   d.Clock,
		metrics: d.Metrics,
		opts:    opts,
	}, nil
}

// CurrentUser returns the user recorded by the last bootstrap.
func (e *Engine) CurrentUser(ctx context.Context) (string, error) {
	id, err := e.store.Metadata(e.store.DB()).Get(ctx, metadata.KeyUserID)
	if errors.Is(err, common.ErrNotFound) || (err == nil && id == "") {
		return "", common.ErrNotBootstrapped
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current user: %w", err)
	}
	return id, nil
}

// RunCycle performs one push, pull and reconcile pass. It returns
// common.ErrSyncInProgress when another engine operation is running, and an
// error wrapping common.ErrSyncIncomplete when a transport failure aborted
// the push phase. Other failures are collected in the report.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	if !e.mu.TryLock() {
		return nil, common.ErrSyncInProgress
	}
	defer e.mu.Unlock()
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) (*Report, error) {
	rep := newReport(e.clock())
	finish := func(outcome string) {
		rep.FinishedAt = e.clock()
		e.metrics.observeCycle(rep, outcome)
		e.refreshQueueDepth(ctx)
	}

	userID, err := e.CurrentUser(ctx)
	if err != nil {
		finish(OutcomeError)
		return rep, err
	}
	log := e.logger.With("user_id", userID)

	if err := e.push(ctx, userID, rep); err != nil {
		outcome := OutcomeError
		if errors.Is(err, common.ErrSyncIncomplete) {
			outcome = OutcomeIncomplete
		}
		log.Warn(ctx, "sync cycle stopped in push phase", "pushed", rep.Pushed, "error", err)
		finish(outcome)
		return rep, err
	}

	e.pull(ctx, userID, rep)
	e.reconcileCycle(ctx, rep)

	if rep.Complete() {
		if err := e.store.Metadata(e.store.DB()).Set(ctx, metadata.KeyLastSyncAt, timex.Stamp(e.clock())); err != nil {
			rep.addError("metadata", err)
		}
	}

	outcome := OutcomeOK
	if !rep.Complete() {
		outcome = OutcomeIncomplete
	}
	finish(outcome)
	log.Info(ctx, "sync cycle finished",
		"pushed", rep.Pushed,
		"conflicts", rep.Conflicts,
		"rejected", rep.Rejected,
		"dropped", rep.Dropped,
		"pulled", rep.PulledTotal(),
		"merged", rep.MergedTotal(),
		"photos_downloaded", rep.Photos.Downloaded,
		"errors", len(rep.Errors))
	return rep, nil
}

// reconcileCycle removes binaries of deleted photos and downloads missing
// ones when a session is available. Orphans are left to bootstrap and
// SyncPhotos.
func (e *Engine) reconcileCycle(ctx context.Context, rep *Report) {
	if e.assets == nil {
		return
	}
	download := true
	if _, err := session.Resolve(ctx, e.session, e.clock()); err != nil {
		e.logger.Debug(ctx, "photo downloads skipped", "reason", err)
		download = false
		rep.PhotosSkipped = true
	}
	st, err := e.reconcile(ctx, assets.Options{Download: download})
	rep.Photos = st
	if err != nil {
		rep.addError("photos", err)
	}
}

func (e *Engine) reconcile(ctx context.Context, opts assets.Options) (assets.Stats, error) {
	repo := e.store.Rows(e.store.DB())
	photos, err := repo.ListAll(ctx, models.TablePhotos)
	if err != nil {
		return assets.Stats{}, fmt.Errorf("failed to list photos: %w", err)
	}
	return e.assets.Reconcile(ctx, photos, repo, opts)
}

// SyncPhotos is an explicit photo retry: it requires a usable session,
// downloads what is missing and collects orphaned files.
func (e *Engine) SyncPhotos(ctx context.Context) (assets.Stats, error) {
	if e.assets == nil {
		return assets.Stats{}, errors.New("no asset cache configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := session.Resolve(ctx, e.session, e.clock()); err != nil {
		return assets.Stats{}, fmt.Errorf("photo sync needs a session: %w", err)
	}
	st, err := e.reconcile(ctx, assets.Options{Download: true, CollectGarbage: true})
	e.metrics.observePhotos(st)
	if err != nil {
		return st, err
	}
	e.logger.Info(ctx, "photos reconciled",
		"downloaded", st.Downloaded, "removed", st.Removed, "collected", st.Collected, "failed", st.Failed)
	return st, nil
}

// ClearLocalData wipes the mirrored tables, the queue, device metadata and
// every cached photo. Used on sign-out.
func (e *Engine) ClearLocalData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		rows := e.store.Rows(tx)
		for _, t := range models.Tables {
			if err := rows.DeleteAll(ctx, t.Name); err != nil {
				return err
			}
		}
		if err := e.store.Queue(tx).Clear(ctx); err != nil {
			return err
		}
		return e.store.Metadata(tx).Clear(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	e.refreshQueueDepth(ctx)

	if e.assets != nil {
		st, err := e.assets.Reconcile(ctx, nil, e.store.Rows(e.store.DB()), assets.Options{CollectGarbage: true})
		if err != nil {
			return fmt.Errorf("failed to clear photo cache: %w", err)
		}
		e.logger.Debug(ctx, "photo cache cleared", "files", st.Collected)
	}
	e.logger.Info(ctx, "local data cleared")
	return nil
}

// QueueDepth returns the number of pending queue entries.
func (e *Engine) QueueDepth(ctx context.Context) (int, error) {
	return e.store.Queue(e.store.DB()).Count(ctx)
}

func (e *Engine) refreshQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	n, err := e.QueueDepth(ctx)
	if err != nil {
		e.logger.Debug(ctx, "queue depth unavailable", "error", err)
		return
	}
	e.metrics.setQueueDepth(n)
}
