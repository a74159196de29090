package storage

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Repository persists bundles, change records and webhooks in Postgres or
// SQLite. Claims and admissions run in transactions backed by unique
// constraints, so they stay atomic across processes.
type Repository struct {
	dbx *sqlx.DB
	sq  sq.StatementBuilderType
}

var _ ports.BundleRepository = (*Repository)(nil)

func (r *Repository) Close() error {
	return r.dbx.Close()
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.dbx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func get(ctx context.Context, q sqlx.QueryerContext, dest any, query sq.Sqlizer) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, sqlStr, args...)
}

func selectAll(ctx context.Context, q sqlx.QueryerContext, dest any, query sq.Sqlizer) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, sqlStr, args...)
}

// exec runs a statement and returns the number of affected rows.
func exec(ctx context.Context, e sqlx.ExecerContext, query sq.Sqlizer) (int64, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := e.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isForeignKeyViolation(err error) bool {
	var (
		sqliteErr *sqlite.Error
		pgErr     *pgconn.PgError
	)
	if errors.As(err, &sqliteErr) {
		// SQLITE_CONSTRAINT_FOREIGNKEY
		return sqliteErr.Code() == 787
	}
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
