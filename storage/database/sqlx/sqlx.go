// Package sqlxrepos implements the domain repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

type base struct {
	db *sqlx.DB
}

// ext returns the executor passed by a service (a transaction) or the repository's database.
func (b base) ext(exec []core.DBExecutor) sqlx.ExtContext {
	if len(exec) > 0 && exec[0] != nil {
		if e, ok := exec[0].(sqlx.ExtContext); ok {
			return e
		}
	}
	return b.db
}

// expand expands the IN (?) args and rebinds the query for postgres.
func expand(ext sqlx.ExtContext, query string, args []interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return ext.Rebind(q), a, nil
}

func (b base) selectAll(ctx context.Context, exec []core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	ext := b.ext(exec)
	q, a, err := expand(ext, query, args)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, ext, dest, q, a...)
}

func (b base) get(ctx context.Context, exec []core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	ext := b.ext(exec)
	q, a, err := expand(ext, query, args)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, ext, dest, q, a...)
}

func (b base) exec(ctx context.Context, exec []core.DBExecutor, query string, args ...interface{}) (int, error) {
	ext := b.ext(exec)
	q, a, err := expand(ext, query, args)
	if err != nil {
		return 0, err
	}
	res, err := ext.ExecContext(ctx, q, a...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b base) namedExec(ctx context.Context, exec []core.DBExecutor, query string, arg interface{}) (int, error) {
	res, err := sqlx.NamedExecContext(ctx, b.ext(exec), query, arg)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// where accumulates AND-ed conditions with "?" placeholders.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, "("+cond+")")
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// orderBy renders the orderings; their fields are checked by the services.
func orderBy(ordering []core.DBOrdering, fallback string) string {
	if len(ordering) == 0 {
		return " ORDER BY " + fallback
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

func like(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(s) + "%"
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}
