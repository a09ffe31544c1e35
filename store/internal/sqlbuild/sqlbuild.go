// Package sqlbuild renders store predicates and updates as SQL with goqu.
package sqlbuild

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/rbaliyan/calllog/store"
)

// Dialect names accepted by the builders.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// likeEscape renders "col LIKE ? ESCAPE '\'" so patterns from
// store.EscapeLike behave the same in every dialect. Postgres LIKE is case
// sensitive, so it gets ILIKE to match SQLite and the other backends.
const (
	likeEscape  = `? LIKE ? ESCAPE '\'`
	ilikeEscape = `? ILIKE ? ESCAPE '\'`
)

// Select renders a query for columns of table filtered by p, ordered by
// store.SortColumn descending.
func Select(dialect, table string, columns []string, p store.Predicate) (string, []any, error) {
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}

	ds := goqu.Dialect(dialect).
		From(table).
		Select(cols...).
		Where(where(dialect, p)...).
		Order(goqu.C(store.SortColumn).Desc())
	if p.Limit() > 0 {
		ds = ds.Limit(uint(p.Limit()))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build select: %w", err)
	}
	return query, args, nil
}

// SelectAll renders an unfiltered query for columns of table ordered by orderBy.
func SelectAll(dialect, table string, columns []string, orderBy string) (string, []any, error) {
	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}
	query, args, err := goqu.Dialect(dialect).
		From(table).
		Select(cols...).
		Order(goqu.C(orderBy).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build select: %w", err)
	}
	return query, args, nil
}

// Update renders an UPDATE of table for u.
func Update(dialect, table string, u store.Update) (string, []any, error) {
	if err := u.Validate(); err != nil {
		return "", nil, err
	}
	record := goqu.Record{}
	for _, a := range u.Set {
		record[a.Column] = a.Value
	}
	query, args, err := goqu.Dialect(dialect).
		Update(table).
		Set(record).
		Where(where(dialect, u.Where)...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build update: %w", err)
	}
	return query, args, nil
}

// Insert renders a multi-row INSERT into table.
func Insert(dialect, table string, columns []string, rows [][]any) (string, []any, error) {
	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}
	vals := make([][]any, len(rows))
	copy(vals, rows)
	query, args, err := goqu.Dialect(dialect).
		Insert(table).
		Cols(cols...).
		Vals(vals...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build insert: %w", err)
	}
	return query, args, nil
}

// Delete renders a DELETE of the rows of table whose column equals any of values.
func Delete(dialect, table, column string, values []any) (string, []any, error) {
	query, args, err := goqu.Dialect(dialect).
		Delete(table).
		Where(goqu.C(column).In(values...)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build delete: %w", err)
	}
	return query, args, nil
}

func where(dialect string, p store.Predicate) []exp.Expression {
	terms := p.Terms()
	exps := make([]exp.Expression, 0, len(terms))
	for _, t := range terms {
		cmps := t.Comparisons()
		if !t.IsGroup() {
			exps = append(exps, comparison(dialect, cmps[0]))
			continue
		}
		group := make([]exp.Expression, len(cmps))
		for i, c := range cmps {
			group[i] = comparison(dialect, c)
		}
		exps = append(exps, goqu.Or(group...))
	}
	return exps
}

func comparison(dialect string, c store.Comparison) exp.Expression {
	col := goqu.C(c.Column())
	switch c.Operator() {
	case store.OpGreater:
		return col.Gt(c.Value())
	case store.OpLessEqual:
		return col.Lte(c.Value())
	case store.OpLike:
		if dialect == DialectPostgres {
			return goqu.L(ilikeEscape, col, c.Value())
		}
		return goqu.L(likeEscape, col, c.Value())
	default:
		return col.Eq(c.Value())
	}
}

// Collect reads every row of rows into memory and closes it.
func Collect(rows *sqlx.Rows) ([]string, [][]any, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	var out [][]any
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			vals[i] = store.Normalize(v)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// ReplaceStatuses deletes and re-inserts the given voicemail sources within tx.
// Later entries for the same source package win.
func ReplaceStatuses(ctx context.Context, tx *sqlx.Tx, dialect, table string, statuses []store.VoicemailStatus) error {
	keys := make([]any, len(statuses))
	rows := make([][]any, 0, len(statuses))
	seen := make(map[string]int, len(statuses))
	for i := range statuses {
		keys[i] = statuses[i].SourcePackage
		if j, ok := seen[statuses[i].SourcePackage]; ok {
			rows[j] = statuses[i].Row()
			continue
		}
		seen[statuses[i].SourcePackage] = len(rows)
		rows = append(rows, statuses[i].Row())
	}

	query, args, err := Delete(dialect, table, store.ColumnSourcePackage, keys)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete voicemail status: %w", err)
	}

	query, args, err = Insert(dialect, table, store.VoicemailStatusColumns, rows)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert voicemail status: %w", err)
	}
	return nil
}
