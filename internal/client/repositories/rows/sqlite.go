package rows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

// selectColumns lists the columns read back for t, in scan order.
func selectColumns(t models.Table) string {
	cols := append([]string{"id"}, t.Columns...)
	cols = append(cols, "data", "version", "updated_at", "deleted_at")
	return strings.Join(cols, ", ")
}

func (r *SQLiteRepository) Get(ctx context.Context, table, id string) (models.Row, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return models.Row{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns(t), t.Name)
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return models.Row{}, fmt.Errorf("failed to get %s[%s]: %w", table, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Row{}, err
		}
		return models.Row{}, common.ErrNotFound
	}
	row, err := scanRow(t, rows)
	if err != nil {
		return models.Row{}, err
	}
	return row, rows.Err()
}

func (r *SQLiteRepository) ListActive(ctx context.Context, table string) ([]models.Row, error) {
	return r.list(ctx, table, `deleted_at IS NULL`)
}

func (r *SQLiteRepository) ListAll(ctx context.Context, table string) ([]models.Row, error) {
	return r.list(ctx, table, `1 = 1`)
}

func (r *SQLiteRepository) ListByParent(ctx context.Context, table, parentID string, includeDeleted bool) ([]models.Row, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return nil, err
	}
	if t.Parent == "" {
		return nil, fmt.Errorf("table %s has no parent column", t.Name)
	}
	where := t.Parent + ` = ?`
	if !includeDeleted {
		where += ` AND deleted_at IS NULL`
	}
	return r.list(ctx, table, where, parentID)
}

func (r *SQLiteRepository) list(ctx context.Context, table, where string, args ...any) ([]models.Row, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY id`, selectColumns(t), t.Name, where)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		row, err := scanRow(t, rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRow(t models.Table, rows *sql.Rows) (models.Row, error) {
	var (
		row       models.Row
		typed     = make([]sql.NullString, len(t.Columns))
		data      string
		deletedAt sql.NullString
	)

	dest := []any{&row.ID}
	for i := range typed {
		dest = append(dest, &typed[i])
	}
	dest = append(dest, &data, &row.Version, &row.UpdatedAt, &deletedAt)
	if err := rows.Scan(dest...); err != nil {
		return models.Row{}, fmt.Errorf("failed to scan %s row: %w", t.Name, err)
	}

	fields, err := models.DecodeFields([]byte(data))
	if err != nil {
		return models.Row{}, fmt.Errorf("failed to decode %s[%s] data: %w", t.Name, row.ID, err)
	}
	row.Fields = fields
	for i, c := range t.Columns {
		if typed[i].Valid {
			row.Set(c, typed[i].String)
		}
	}
	if deletedAt.Valid {
		s := deletedAt.String
		row.DeletedAt = &s
	}
	return row, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, table string, row models.Row) error {
	t, err := models.LookupTable(table)
	if err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return err
	}

	args := []any{row.ID}
	rest := map[string]any{}
	for k, v := range row.Fields {
		if !t.HasColumn(k) {
			rest[k] = v
		}
	}
	for _, c := range t.Columns {
		v, ok := row.Fields[c]
		switch {
		case !ok || v == nil:
			args = append(args, nil)
		default:
			s, isString := v.(string)
			if !isString {
				return fmt.Errorf("%w: %s.%s must be a string", common.ErrInvalidRow, t.Name, c)
			}
			args = append(args, s)
		}
	}
	data, err := json.Marshal(rest)
	if err != nil {
		return fmt.Errorf("failed to encode %s[%s] data: %w", t.Name, row.ID, err)
	}
	var deletedAt any
	if row.DeletedAt != nil {
		deletedAt = *row.DeletedAt
	}
	args = append(args, string(data), row.Version, row.UpdatedAt, deletedAt)

	cols := append([]string{"id"}, t.Columns...)
	cols = append(cols, "data", "version", "updated_at", "deleted_at")
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT(id) DO UPDATE SET %s`,
		t.Name,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(sets, ", "),
	)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s[%s]: %w", t.Name, row.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, table, id, deletedAt string) error {
	t, err := models.LookupTable(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`, t.Name)
	res, err := r.db.ExecContext(ctx, query, deletedAt, deletedAt, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", t.Name, id, err)
	}
	return dbx.ExpectAffected(res, 1, common.ErrNotFound)
}

func (r *SQLiteRepository) SetLocalURI(ctx context.Context, id string, localURI *string) error {
	var v any
	if localURI != nil {
		v = *localURI
	}
	res, err := r.db.ExecContext(ctx, `UPDATE photos SET local_uri = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to set local uri of photo %s: %w", id, err)
	}
	return dbx.ExpectAffected(res, 1, common.ErrNotFound)
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context, table string) error {
	t, err := models.LookupTable(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+t.Name); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t.Name, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, table string, includeDeleted bool) (int, error) {
	t, err := models.LookupTable(table)
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM ` + t.Name
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count %s: %w", t.Name, err)
	}
	return n, nil
}
