// Package store is the device-side Local Store: one SQLite database holding
// the mirrored tables, the sync queue and device metadata.
//
// Repositories are vended per DBTX so the same code runs against the pool or
// inside a transaction:
//
//	err := s.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := s.Rows(tx).Upsert(ctx, table, row); err != nil {
//	        return err
//	    }
//	    _, err := s.Queue(tx).Enqueue(ctx, change)
//	    return err
//	})
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/migrations"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/estisync/internal/client/repositories/rows"
	"github.com/dmitrijs2005/estisync/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// RepositoryManager vends repositories bound to a DBTX.
type RepositoryManager interface {
	Rows(db dbx.DBTX) rows.Repository
	Queue(db dbx.DBTX) queue.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLiteRepositoryManager returns the SQLite implementations.
type SQLiteRepositoryManager struct{}

func (SQLiteRepositoryManager) Rows(db dbx.DBTX) rows.Repository {
	return rows.NewSQLiteRepository(db)
}

func (SQLiteRepositoryManager) Queue(db dbx.DBTX) queue.Repository {
	return queue.NewSQLiteRepository(db)
}

func (SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// Store owns the database handle.
type Store struct {
	RepositoryManager
	db *sql.DB
}

// New wraps an already migrated database. A nil manager selects
// SQLiteRepositoryManager.
func New(db *sql.DB, m RepositoryManager) *Store {
	if m == nil {
		m = SQLiteRepositoryManager{}
	}
	return &Store{RepositoryManager: m, db: db}
}

// DSN builds the modernc sqlite connection string for path with the pragmas
// the store relies on.
func DSN(path string) string {
	if path == MemoryPath {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations. Opening an existing database keeps its data.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return New(db, nil), nil
}

// RunMigrations applies the embedded schema. Re-running is a no-op.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// DB returns the pool. Inside WithTx use the tx handle instead; the pool has
// a single connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, s.db, nil, fn)
}

func (s *Store) Close() error {
	return s.db.Close()
}
