package assets

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/estisync/internal/client/blobs"
	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/logging"
)

type memWriter struct {
	uris   map[string]string
	writes int
	err    error
}

func newMemWriter() *memWriter { return &memWriter{uris: map[string]string{}} }

func (m *memWriter) SetLocalURI(ctx context.Context, id string, localURI *string) error {
	if m.err != nil {
		return m.err
	}
	m.writes++
	if localURI == nil {
		delete(m.uris, id)
		return nil
	}
	m.uris[id] = *localURI
	return nil
}

// apply mirrors what the store would hold after the writer calls.
func (m *memWriter) apply(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		c := r.Clone()
		if u, ok := m.uris[r.ID]; ok {
			c.Set(models.ColLocalURI, u)
		} else if c.Fields != nil {
			delete(c.Fields, models.ColLocalURI)
		}
		out[i] = c
	}
	return out
}

func photo(id, uri string, deleted bool) models.Row {
	r := models.Row{ID: id, Version: 1, Fields: map[string]any{models.ColURI: uri}}
	if deleted {
		d := "2024-01-01T00:00:00.000000000Z"
		r.DeletedAt = &d
	}
	return r
}

func newCache(t *testing.T) (*Cache, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	c, err := NewCache(fsys, "/cache")
	require.NoError(t, err)
	return c, fsys
}

func TestPath_DeterministicAndDistinct(t *testing.T) {
	a := Path("p1", "users/u1/a.JPG")
	assert.Equal(t, a, Path("p1", "users/u1/a.JPG"))
	assert.Equal(t, "p1", filepath.Dir(a))
	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.Len(t, filepath.Base(a), 16+len(".jpg"))

	assert.NotEqual(t, a, Path("p2", "users/u1/a.JPG"), "distinct photos never share a path")
	assert.NotEqual(t, a, Path("p1", "users/u1/b.JPG"))
	assert.Equal(t, "a%2Fb", filepath.Dir(Path("a/b", "x.png")), "ids cannot escape their directory")
	assert.Equal(t, "", filepath.Ext(Path("p1", "noext")))
	assert.Equal(t, ".png", filepath.Ext(Path("p1", "https://cdn.example/x.png?sig=1")))
}

func TestCache_PutHasRemoveList(t *testing.T) {
	c, _ := newCache(t)
	p := Path("p1", "a.jpg")

	ok, err := c.Has(p)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Put(p, strings.NewReader("JPEG"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	ok, err = c.Has(p)
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := c.Open(p)
	require.NoError(t, err)
	b, _ := io.ReadAll(f)
	_ = f.Close()
	assert.Equal(t, "JPEG", string(b))

	files, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{p}, files, "no temp files left behind")

	removed, err := c.Remove(p)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.Remove(p)
	require.NoError(t, err)
	assert.False(t, removed)

	files, err = c.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream cut") }

func TestCache_PutFailureLeavesNothing(t *testing.T) {
	c, _ := newCache(t)
	p := Path("p1", "a.jpg")

	_, err := c.Put(p, failingReader{})
	require.Error(t, err)

	ok, err := c.Has(p)
	require.NoError(t, err)
	assert.False(t, ok)
	files, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReconcile_DownloadsRemovesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)
	store := blobs.NewMemoryStore()
	store.Put("u1/live.jpg", []byte("LIVE"))
	r := NewReconciler(c, store, logging.Nop())
	w := newMemWriter()

	dead := photo("p-dead", "u1/dead.jpg", true)
	_, err := c.Put(Path(dead.ID, "u1/dead.jpg"), strings.NewReader("OLD"))
	require.NoError(t, err)
	dead.Set(models.ColLocalURI, Path(dead.ID, "u1/dead.jpg"))
	w.uris[dead.ID] = Path(dead.ID, "u1/dead.jpg")

	photos := []models.Row{photo("p-live", "u1/live.jpg", false), dead}

	st, err := r.Reconcile(ctx, photos, w, Options{Download: true})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Downloaded)
	assert.Equal(t, 1, st.Removed)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, Path("p-live", "u1/live.jpg"), w.uris["p-live"])
	assert.NotContains(t, w.uris, "p-dead")

	writes, fetches := w.writes, store.Fetches()
	st, err = r.Reconcile(ctx, w.apply(photos), w, Options{Download: true, CollectGarbage: true})
	require.NoError(t, err)
	assert.False(t, st.Changed(), "second pass is a no-op: %+v", st)
	assert.Equal(t, writes, w.writes)
	assert.Equal(t, fetches, store.Fetches())
}

func TestReconcile_DownloadFailureIsCountedNotFatal(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)
	store := blobs.NewMemoryStore()
	store.Put("ok.jpg", []byte("OK"))
	r := NewReconciler(c, store, logging.Nop())
	w := newMemWriter()

	st, err := r.Reconcile(ctx, []models.Row{
		photo("p1", "missing.jpg", false),
		photo("p2", "ok.jpg", false),
	}, w, Options{Download: true})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Downloaded)
	assert.NotContains(t, w.uris, "p1", "local uri stays empty on failure")
}

func TestReconcile_WithoutDownloadCountsMissing(t *testing.T) {
	c, _ := newCache(t)
	store := blobs.NewMemoryStore()
	r := NewReconciler(c, store, logging.Nop())

	st, err := r.Reconcile(context.Background(), []models.Row{photo("p1", "a.jpg", false)}, newMemWriter(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Missing)
	assert.Zero(t, store.Fetches())
}

func TestReconcile_CollectsOrphans(t *testing.T) {
	c, _ := newCache(t)
	r := NewReconciler(c, blobs.NewMemoryStore(), logging.Nop())
	w := newMemWriter()

	keep := Path("p1", "a.jpg")
	_, err := c.Put(keep, strings.NewReader("A"))
	require.NoError(t, err)
	_, err = c.Put(Path("gone", "b.jpg"), strings.NewReader("B"))
	require.NoError(t, err)
	_, err = c.Put(Path("p1", "old-uri.jpg"), strings.NewReader("C"))
	require.NoError(t, err)

	st, err := r.Reconcile(context.Background(), []models.Row{photo("p1", "a.jpg", false)}, w, Options{CollectGarbage: true})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Collected)
	assert.Equal(t, 1, st.Linked, "existing file gets recorded")

	files, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, files)
}

func TestReconcile_WriterFailureCounted(t *testing.T) {
	c, _ := newCache(t)
	store := blobs.NewMemoryStore()
	store.Put("a.jpg", []byte("A"))
	r := NewReconciler(c, store, logging.Nop())
	w := newMemWriter()
	w.err = errors.New("db locked")

	st, err := r.Reconcile(context.Background(), []models.Row{photo("p1", "a.jpg", false)}, w, Options{Download: true})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Downloaded)
	assert.Equal(t, 1, st.Failed)
}

func TestReconcile_CancelledContext(t *testing.T) {
	c, _ := newCache(t)
	r := NewReconciler(c, blobs.NewMemoryStore(), logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, []models.Row{photo("p1", "a.jpg", false)}, newMemWriter(), Options{})
	require.ErrorIs(t, err, context.Canceled)
}
