package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MemoryHasSchema(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, tbl := range models.Tables {
		n, err := s.Rows(s.DB()).Count(ctx, tbl.Name, true)
		require.NoError(t, err, tbl.Name)
		assert.Zero(t, n)
	}
	n, err := s.Queue(s.DB()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Rows(s.DB()).Upsert(ctx, models.TableCustomers,
		models.Row{ID: "c1", Version: 1, Fields: map[string]any{"name": "Jane"}}))
	require.NoError(t, s.Metadata(s.DB()).Set(ctx, metadata.KeyUserID, "u1"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	row, err := s.Rows(s.DB()).Get(ctx, models.TableCustomers, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", row.Fields["name"])

	uid, err := s.Metadata(s.DB()).Get(ctx, metadata.KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	require.NoError(t, RunMigrations(ctx, s.DB()), "migrations are idempotent")
}

func TestWithTx_RollsBackAcrossRepositories(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		row := models.Row{ID: "c1", Version: 1}
		if err := s.Rows(tx).Upsert(ctx, models.TableCustomers, row); err != nil {
			return err
		}
		if _, err := s.Queue(tx).Enqueue(ctx, models.Change{
			Table: models.TableCustomers, Operation: models.OpInsert, Payload: row,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Rows(s.DB()).Count(ctx, models.TableCustomers, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	q, err := s.Queue(s.DB()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, q)
}

func TestDSN(t *testing.T) {
	assert.Contains(t, DSN(MemoryPath), ":memory:")
	assert.Contains(t, DSN("/tmp/x.db"), "journal_mode(WAL)")
}
