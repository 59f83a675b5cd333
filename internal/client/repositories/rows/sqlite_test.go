package rows_test

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/rows"
	"github.com/dmitrijs2005/estisync/internal/client/store"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*store.Store, *rows.SQLiteRepository) {
	t.Helper()
	s, err := store.Open(context.Background(), store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rows.NewSQLiteRepository(s.DB())
}

func strp(s string) *string { return &s }

func TestUpsert_InsertThenReplace(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	row := models.Row{ID: "c1", Version: 1, UpdatedAt: "t1",
		Fields: map[string]any{models.ColUserID: "u1", "name": "Jane", "discount": int64(5)}}
	require.NoError(t, r.Upsert(ctx, models.TableCustomers, row))

	got, err := r.Get(ctx, models.TableCustomers, "c1")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	row.Version = 2
	row.Fields = map[string]any{models.ColUserID: "u1", "name": "Jane Doe"}
	require.NoError(t, r.Upsert(ctx, models.TableCustomers, row))

	got, err = r.Get(ctx, models.TableCustomers, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Jane Doe", got.Fields["name"])
	assert.NotContains(t, got.Fields, "discount", "replace is whole-row")
}

func TestUpsert_TypedColumnsAndNulls(t *testing.T) {
	s, r := setupRepo(t)
	ctx := context.Background()

	p := models.Row{ID: "p1", Version: 1, Fields: map[string]any{
		models.ColEstimateID: "e1", models.ColURI: "u1/p1.jpg", "width": int64(640),
	}}
	require.NoError(t, r.Upsert(ctx, models.TablePhotos, p))

	var uri, data string
	var local *string
	require.NoError(t, s.DB().QueryRow(`SELECT uri, local_uri, data FROM photos WHERE id = 'p1'`).Scan(&uri, &local, &data))
	assert.Equal(t, "u1/p1.jpg", uri)
	assert.Nil(t, local)
	assert.JSONEq(t, `{"width":640}`, data)

	got, err := r.Get(ctx, models.TablePhotos, "p1")
	require.NoError(t, err)
	assert.Equal(t, "", models.PhotoLocalURI(got))
	assert.NotContains(t, got.Fields, models.ColLocalURI)
}

func TestUpsert_Rejects(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	err := r.Upsert(ctx, "invoices", models.Row{ID: "x", Version: 1})
	require.ErrorIs(t, err, common.ErrUnknownTable)

	err = r.Upsert(ctx, models.TableCustomers, models.Row{ID: "x"})
	require.ErrorIs(t, err, common.ErrInvalidRow)

	err = r.Upsert(ctx, models.TableCustomers, models.Row{ID: "x", Version: 1,
		Fields: map[string]any{models.ColUserID: 42}})
	require.ErrorIs(t, err, common.ErrInvalidRow)
}

func TestGet_NotFound(t *testing.T) {
	_, r := setupRepo(t)
	_, err := r.Get(context.Background(), models.TableEstimates, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSoftDelete_BumpsVersionAndHidesRow(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, models.TableSavedItems, models.Row{ID: "s1", Version: 3}))
	require.NoError(t, r.Upsert(ctx, models.TableSavedItems, models.Row{ID: "s2", Version: 1}))

	require.NoError(t, r.SoftDelete(ctx, models.TableSavedItems, "s1", "2024-05-05T00:00:00.000000000Z"))

	got, err := r.Get(ctx, models.TableSavedItems, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	require.True(t, got.IsTombstone())
	assert.Equal(t, "2024-05-05T00:00:00.000000000Z", *got.DeletedAt)

	active, err := r.ListActive(ctx, models.TableSavedItems)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)

	all, err := r.ListAll(ctx, models.TableSavedItems)
	require.NoError(t, err)
	assert.Len(t, all, 2, "tombstones stay physically present")

	err = r.SoftDelete(ctx, models.TableSavedItems, "s1", "later")
	require.ErrorIs(t, err, common.ErrNotFound, "already deleted")
}

func TestListByParent(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	for _, it := range []models.Row{
		{ID: "i1", Version: 1, Fields: map[string]any{models.ColEstimateID: "e1"}},
		{ID: "i2", Version: 1, Fields: map[string]any{models.ColEstimateID: "e1"}, DeletedAt: strp("t")},
		{ID: "i3", Version: 1, Fields: map[string]any{models.ColEstimateID: "e2"}},
	} {
		require.NoError(t, r.Upsert(ctx, models.TableEstimateItems, it))
	}

	live, err := r.ListByParent(ctx, models.TableEstimateItems, "e1", false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "i1", live[0].ID)

	all, err := r.ListByParent(ctx, models.TableEstimateItems, "e1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = r.ListByParent(ctx, models.TableCustomers, "x", false)
	require.Error(t, err)
}

func TestSetLocalURI(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, models.TablePhotos, models.Row{ID: "p1", Version: 1}))
	require.NoError(t, r.SetLocalURI(ctx, "p1", strp("p1/abc.jpg")))

	got, err := r.Get(ctx, models.TablePhotos, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1/abc.jpg", models.PhotoLocalURI(got))
	assert.Equal(t, int64(1), got.Version, "local-only column does not bump version")

	require.NoError(t, r.SetLocalURI(ctx, "p1", nil))
	got, err = r.Get(ctx, models.TablePhotos, "p1")
	require.NoError(t, err)
	assert.Equal(t, "", models.PhotoLocalURI(got))

	require.ErrorIs(t, r.SetLocalURI(ctx, "ghost", nil), common.ErrNotFound)
}

func TestDeleteAllAndCount(t *testing.T) {
	_, r := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, models.TableEstimates, models.Row{ID: "e1", Version: 1}))
	require.NoError(t, r.Upsert(ctx, models.TableEstimates, models.Row{ID: "e2", Version: 1, DeletedAt: strp("t")}))

	n, err := r.Count(ctx, models.TableEstimates, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.Count(ctx, models.TableEstimates, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.DeleteAll(ctx, models.TableEstimates))
	n, err = r.Count(ctx, models.TableEstimates, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}
