// Package sqlxrepos implements the domain repositories on top of database/sql, using sqlx
// for named parameters, IN clause expansion and struct scanning.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/divecert/core"
)

// dbTime returns t in UTC, at the microsecond precision of postgres timestamps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// selectAll runs q (with "?" bindvars) and scans every row into dest, a pointer to a slice.
func selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, q string, args ...interface{}) error {
	rows, err := exec.QueryContext(ctx, sqlx.Rebind(sqlx.DOLLAR, q), args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return sqlx.StructScan(rows, dest)
}

// selectOne is like selectAll for a single row; it returns sql.ErrNoRows when there is none.
func selectOne[T any](ctx context.Context, exec core.DBExecutor, q string, args ...interface{}) (T, error) {
	var rows []T
	if err := selectAll(ctx, exec, &rows, q, args...); err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, sql.ErrNoRows
	}
	return rows[0], nil
}

// namedExec runs a query using ":field" parameters bound from arg's `db` tags.
func namedExec(ctx context.Context, exec core.DBExecutor, q string, arg interface{}) (sql.Result, error) {
	query, args, err := sqlx.Named(q, arg)
	if err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
}

// namedReturning runs an INSERT/UPDATE ... RETURNING query bound from arg and scans the returned row into dest.
func namedReturning(ctx context.Context, exec core.DBExecutor, q string, arg interface{}, dest ...interface{}) error {
	query, args, err := sqlx.Named(q, arg)
	if err != nil {
		return err
	}
	return exec.QueryRowContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...).Scan(dest...)
}

// in expands the slice arguments of q's "IN (?)" clauses.
func in(q string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(q, args...)
}

// execIn runs q after expanding its "IN (?)" clauses and returns the number of affected rows.
func execIn(ctx context.Context, exec core.DBExecutor, q string, args ...interface{}) (int, error) {
	query, args, err := sqlx.In(q, args...)
	if err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// where joins conditions with AND into a WHERE clause ("" when there is none).
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
