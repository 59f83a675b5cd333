// Package postgres implements the Remote Data Service over PostgreSQL via
// pgx's database/sql driver. Each mirrored table has a server table of the
// same name; domain fields outside the typed columns live in a JSONB column.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/client/remote/postgres/migrations"
	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/dbx"
)

// Service implements remote.Service over a dbx.DBTX (*sql.DB or *sql.Tx).
type Service struct {
	db dbx.DBTX
}

var _ remote.Service = (*Service)(nil)

// New binds a Service to db.
func New(db dbx.DBTX) *Service {
	return &Service{db: db}
}

// Open connects to dsn and applies the server schema.
func Open(ctx context.Context, dsn string) (*Service, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, remote.Unavailable(fmt.Errorf("db ping error: %w", err))
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	return New(db), db, nil
}

// RunMigrations applies the embedded server schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// serverColumns are the typed columns stored remotely, in order.
func serverColumns(t models.Table) []string {
	var out []string
	for _, c := range t.Columns {
		if !t.IsLocalOnly(c) {
			out = append(out, c)
		}
	}
	return out
}

func upsertQuery(t models.Table) string {
	cols := append([]string{"id"}, serverColumns(t)...)
	cols = append(cols, "data", "version", "updated_at", "deleted_at")

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET %s
		WHERE %s.version <= EXCLUDED.version AND %s.user_id = EXCLUDED.user_id`,
		t.Name, strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(sets, ", "), t.Name, t.Name)
}

func selectQuery(t models.Table, byParent bool) string {
	cols := append([]string{"id"}, serverColumns(t)...)
	cols = append(cols, "data", "version", "updated_at", "deleted_at")
	where := "user_id = $1"
	if byParent {
		where += " AND " + t.Parent + " = $2"
	}
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY id`, strings.Join(cols, ", "), t.Name, where)
}

func (s *Service) Upsert(ctx context.Context, table string, row models.Row) error {
	t, owner, err := remote.ValidateUpsert(table, row)
	if err != nil {
		return err
	}

	cols := serverColumns(t)
	args := []any{row.ID}
	rest := map[string]any{}
	for k, v := range row.Fields {
		if !t.HasColumn(k) {
			rest[k] = v
		}
	}
	for _, c := range cols {
		v := row.Fields[c]
		if v == nil {
			args = append(args, nil)
			continue
		}
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s.%s must be a string", common.ErrInvalidRow, t.Name, c)
		}
		args = append(args, str)
	}
	data, err := json.Marshal(rest)
	if err != nil {
		return fmt.Errorf("encode %s[%s] data: %w", t.Name, row.ID, err)
	}
	var deletedAt any
	if row.DeletedAt != nil {
		deletedAt = *row.DeletedAt
	}
	args = append(args, data, row.Version, row.UpdatedAt, deletedAt)

	res, err := s.db.ExecContext(ctx, upsertQuery(t), args...)
	if err != nil {
		return classify(fmt.Errorf("db error: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return s.explainRejection(ctx, t, row, owner)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// explainRejection tells an owner mismatch from a version conflict after
// the guarded upsert changed nothing.
func (s *Service) explainRejection(ctx context.Context, t models.Table, row models.Row, owner string) error {
	var (
		storedOwner   string
		storedVersion int64
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT user_id, version FROM %s WHERE id = $1`, t.Name), row.ID).
		Scan(&storedOwner, &storedVersion)
	if err != nil {
		return remote.ErrConflict(t.Name, row.ID, row.Version, 0)
	}
	if storedOwner != owner {
		return remote.ErrOwnerMismatch(t.Name, row.ID)
	}
	return remote.ErrConflict(t.Name, row.ID, row.Version, storedVersion)
}

func (s *Service) Fetch(ctx context.Context, table string, f remote.Filter) ([]models.Row, error) {
	t, err := remote.ValidateFetch(table, f)
	if err != nil {
		return nil, err
	}
	args := []any{f.UserID}
	if f.ParentID != "" {
		args = append(args, f.ParentID)
	}

	rows, err := s.db.QueryContext(ctx, selectQuery(t, f.ParentID != ""), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to select %s: %w", t.Name, err))
	}
	defer rows.Close()

	cols := serverColumns(t)
	var result []models.Row
	for rows.Next() {
		var (
			r         models.Row
			typed     = make([]sql.NullString, len(cols))
			data      []byte
			deletedAt sql.NullString
		)
		dest := []any{&r.ID}
		for i := range typed {
			dest = append(dest, &typed[i])
		}
		dest = append(dest, &data, &r.Version, &r.UpdatedAt, &deletedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.Name, err)
		}
		if len(data) > 0 {
			fields, err := models.DecodeFields(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s[%s] data: %w", t.Name, r.ID, err)
			}
			r.Fields = fields
		}
		for i, c := range cols {
			if typed[i].Valid {
				r.Set(c, typed[i].String)
			}
		}
		if deletedAt.Valid {
			d := deletedAt.String
			r.DeletedAt = &d
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// classify wraps connection-level failures with common.ErrUnavailable.
func classify(err error) error {
	var (
		netErr     net.Error
		connectErr *pgconn.ConnectError
	)
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &connectErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err):
		return remote.Unavailable(err)
	}
	return err
}
