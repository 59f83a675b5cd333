package assets

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/blobs"
	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/logging"
)

// LocalURIWriter records where a photo's binary is cached. rows.Repository
// satisfies it.
type LocalURIWriter interface {
	SetLocalURI(ctx context.Context, id string, localURI *string) error
}

// Options selects what one reconciliation pass may do.
type Options struct {
	// Download fetches missing binaries of surviving photos.
	Download bool
	// CollectGarbage deletes cached files no surviving photo expects.
	CollectGarbage bool
}

// Stats counts the effects of one pass. A pass with nothing to do leaves
// every counter at zero.
type Stats struct {
	Downloaded int
	Removed    int
	Collected  int
	Linked     int
	Missing    int
	Failed     int
}

// Changed reports whether the pass touched the filesystem or the store.
func (s Stats) Changed() bool {
	return s.Downloaded+s.Removed+s.Collected+s.Linked > 0
}

// Reconciler brings the cache in line with the photo rows.
type Reconciler struct {
	cache  *Cache
	blobs  blobs.Store
	logger logging.Logger
}

func NewReconciler(cache *Cache, store blobs.Store, logger logging.Logger) *Reconciler {
	return &Reconciler{cache: cache, blobs: store, logger: logger}
}

// Cache returns the underlying cache.
func (r *Reconciler) Cache() *Cache {
	return r.cache
}

// Reconcile removes binaries of tombstoned photos, fetches missing binaries
// of surviving ones when opts.Download is set and, with opts.CollectGarbage,
// deletes orphaned files. Per-photo failures are logged and counted; the
// returned error is reserved for failures that stop the whole pass.
func (r *Reconciler) Reconcile(ctx context.Context, photos []models.Row, w LocalURIWriter, opts Options) (Stats, error) {
	var st Stats
	expected := make(map[string]struct{}, len(photos))

	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if p.IsTombstone() {
			r.evict(ctx, p, w, &st)
			continue
		}
		uri := models.PhotoURI(p)
		if uri == "" {
			continue
		}
		want := Path(p.ID, uri)
		expected[want] = struct{}{}
		r.ensure(ctx, p, want, w, opts, &st)
	}

	if opts.CollectGarbage {
		files, err := r.cache.List()
		if err != nil {
			return st, err
		}
		for _, f := range files {
			if _, ok := expected[f]; ok {
				continue
			}
			removed, err := r.cache.Remove(f)
			if err != nil {
				r.logger.Warn(ctx, "failed to collect orphaned photo file", "path", f, "error", err)
				st.Failed++
				continue
			}
			if removed {
				st.Collected++
			}
		}
	}
	return st, nil
}

func (r *Reconciler) evict(ctx context.Context, p models.Row, w LocalURIWriter, st *Stats) {
	paths := map[string]struct{}{}
	if uri := models.PhotoURI(p); uri != "" {
		paths[Path(p.ID, uri)] = struct{}{}
	}
	local := models.PhotoLocalURI(p)
	if local != "" {
		paths[local] = struct{}{}
	}
	for f := range paths {
		removed, err := r.cache.Remove(f)
		if err != nil {
			r.logger.Warn(ctx, "failed to remove photo of deleted row", "photo_id", p.ID, "path", f, "error", err)
			st.Failed++
			continue
		}
		if removed {
			st.Removed++
		}
	}
	if local != "" {
		if err := w.SetLocalURI(ctx, p.ID, nil); err != nil {
			r.logger.Warn(ctx, "failed to clear local uri", "photo_id", p.ID, "error", err)
			st.Failed++
			return
		}
		st.Linked++
	}
}

func (r *Reconciler) ensure(ctx context.Context, p models.Row, want string, w LocalURIWriter, opts Options, st *Stats) {
	local := models.PhotoLocalURI(p)
	has, err := r.cache.Has(want)
	if err != nil {
		r.logger.Warn(ctx, "failed to stat cached photo", "photo_id", p.ID, "error", err)
		st.Failed++
		return
	}

	if !has {
		if !opts.Download {
			st.Missing++
			return
		}
		if err := r.download(ctx, p.ID, models.PhotoURI(p), want); err != nil {
			r.logger.Warn(ctx, "photo download failed", "photo_id", p.ID, "uri", models.PhotoURI(p), "error", err)
			st.Failed++
			return
		}
		st.Downloaded++
	}

	if local == want {
		return
	}
	if local != "" {
		if _, err := r.cache.Remove(local); err != nil {
			r.logger.Warn(ctx, "failed to remove stale photo file", "photo_id", p.ID, "path", local, "error", err)
		}
	}
	path := want
	if err := w.SetLocalURI(ctx, p.ID, &path); err != nil {
		r.logger.Warn(ctx, "failed to record local uri", "photo_id", p.ID, "error", err)
		st.Failed++
		return
	}
	st.Linked++
}

func (r *Reconciler) download(ctx context.Context, id, uri, dst string) error {
	if r.blobs == nil {
		return fmt.Errorf("no blob store configured")
	}
	rc, err := r.blobs.Fetch(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := r.cache.Put(dst, rc); err != nil {
		return err
	}
	r.logger.Debug(ctx, "photo cached", "photo_id", id, "path", dst)
	return nil
}
