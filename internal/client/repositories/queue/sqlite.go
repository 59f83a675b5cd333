package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, c models.Change) (int64, error) {
	if _, err := models.LookupTable(c.Table); err != nil {
		return 0, err
	}
	if !c.Operation.Valid() {
		return 0, fmt.Errorf("%w: %q", common.ErrInvalidOperation, c.Operation)
	}
	if err := c.Payload.Validate(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (table_name, operation, row_id, version, payload, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Table, string(c.Operation), c.Payload.ID, c.Payload.Version, string(payload), c.Attempts, c.EnqueuedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s[%s]: %w", c.Operation, c.Table, c.Payload.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue sequence: %w", err)
	}
	return seq, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]models.Change, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, table_name, operation, payload, attempts, enqueued_at
		FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue: %w", err)
	}
	defer rows.Close()

	var result []models.Change
	for rows.Next() {
		var (
			c       models.Change
			op      string
			payload string
		)
		if err := rows.Scan(&c.Seq, &c.Table, &op, &payload, &c.Attempts, &c.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		c.Operation = models.Operation(op)
		if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode queue entry %d: %w", c.Seq, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", seq, err)
	}
	return dbx.ExpectAffected(res, 1, common.ErrNotFound)
}

func (r *SQLiteRepository) RemoveSuperseded(ctx context.Context, table, id string, version int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE table_name = ? AND row_id = ? AND version <= ?`, table, id, version)
	if err != nil {
		return 0, fmt.Errorf("failed to remove superseded entries of %s[%s]: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) IncrementAttempts(ctx context.Context, seq int64) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET attempts = attempts + 1 WHERE seq = ?`, seq)
	if err != nil {
		return 0, fmt.Errorf("failed to bump attempts of queue entry %d: %w", seq, err)
	}
	if err := dbx.ExpectAffected(res, 1, common.ErrNotFound); err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT attempts FROM sync_queue WHERE seq = ?`, seq).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read attempts of queue entry %d: %w", seq, err)
	}
	return n, nil
}

func (r *SQLiteRepository) HasPending(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM sync_queue WHERE table_name = ? AND row_id = ? LIMIT 1`, table, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up queue for %s[%s]: %w", table, id, err)
	}
	return true, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
