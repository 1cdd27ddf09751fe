// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres wires the shared SQL compiler to a PostgreSQL
// connection pool through jackc/pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	quarksql "github.com/quarkdb/quark/sql"

	"github.com/quarkdb/quark/dialect"
	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql/selection"
)

type hooks struct{}

func (hooks) QuoteIdent(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }
func (hooks) Placeholder(n int) string       { return fmt.Sprintf("$%d", n) }
func (hooks) JSONExtract(column string, path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = "'" + p + "'"
	}
	return fmt.Sprintf("%s #>> ARRAY[%s]", column, strings.Join(parts, ", "))
}
func (hooks) Regex(value, pattern string) string { return fmt.Sprintf("%s ~ %s", value, pattern) }
func (hooks) Now() string                        { return "now()" }

// querier is the subset of *pgxpool.Pool and pgx.Tx every operation
// runs through, so a WithTransaction-bound call reaches the open
// transaction instead of a fresh connection from the pool.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Driver is the PostgreSQL backend.
type Driver struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
	dsn  string
	comp *dialect.Compiler
	log  *logrus.Entry
}

// q returns the active transaction's connection when one is open, or
// the pool otherwise.
func (d *Driver) q() querier {
	if d.tx != nil {
		return d.tx
	}
	return d.pool
}

// New returns a Driver that connects lazily on Start.
func New(dsn string) *Driver {
	return &Driver{
		dsn:  dsn,
		comp: dialect.New(hooks{}),
		log:  logrus.WithField("driver", "postgres"),
	}
}

func (d *Driver) Start(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	if err := pool.Ping(ctx); err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	d.pool = pool
	d.log.Info("connected")
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	if d.pool == nil {
		return nil
	}
	d.pool.Close()
	d.pool = nil
	return nil
}

func (d *Driver) Prepare(ctx context.Context, table string) error { return nil }

func (d *Driver) Get(ctx *quarksql.EvalContext, sel *selection.Selection) ([]quarksql.Row, error) {
	query, args, err := d.comp.CompileSelect(sel)
	if err != nil {
		return nil, err
	}
	rows, err := d.q().Query(ctx, query, args...)
	if err != nil {
		return nil, kerr.BackendError.New(err.Error())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []quarksql.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, kerr.BackendError.New(err.Error())
		}
		row := map[string]interface{}{}
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *Driver) Eval(ctx *quarksql.EvalContext, sel *selection.Selection) (interface{}, error) {
	query, args, err := d.comp.CompileSelect(sel)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := d.q().QueryRow(ctx, query, args...).Scan(&v); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, kerr.BackendError.New(err.Error())
	}
	return v, nil
}

func (d *Driver) Set(ctx *quarksql.EvalContext, sel *selection.Selection) (driver.SetResult, error) {
	query, args, err := d.comp.CompileUpdate(sel)
	if err != nil {
		return driver.SetResult{}, err
	}
	tag, err := d.q().Exec(ctx, query, args...)
	if err != nil {
		return driver.SetResult{}, kerr.BackendError.New(err.Error())
	}
	n := tag.RowsAffected()
	return driver.SetResult{Matched: n, Modified: &n}, nil
}

func (d *Driver) Remove(ctx *quarksql.EvalContext, sel *selection.Selection) (driver.RemoveResult, error) {
	query, args, err := d.comp.CompileDelete(sel)
	if err != nil {
		return driver.RemoveResult{}, err
	}
	tag, err := d.q().Exec(ctx, query, args...)
	if err != nil {
		return driver.RemoveResult{}, kerr.BackendError.New(err.Error())
	}
	return driver.RemoveResult{Removed: tag.RowsAffected()}, nil
}

func (d *Driver) Create(ctx *quarksql.EvalContext, sel *selection.Selection) (quarksql.Row, error) {
	query, args, err := d.comp.CompileInsert(sel)
	if err != nil {
		return nil, err
	}
	name, _ := sel.TableName()
	row := map[string]interface{}{}
	for k, v := range sel.Create.Row {
		row[k] = v
	}
	if sel.Model.AutoInc && len(sel.Model.Primary) == 1 {
		query += fmt.Sprintf(" RETURNING %s", hooks{}.QuoteIdent(sel.Model.Primary[0]))
		var id interface{}
		if err := d.q().QueryRow(ctx, query, args...).Scan(&id); err != nil {
			if isDuplicateKey(err) {
				return nil, kerr.DuplicateEntry.New(err.Error())
			}
			return nil, kerr.BackendError.New(err.Error())
		}
		row[sel.Model.Primary[0]] = id
		return row, nil
	}
	if _, err := d.q().Exec(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return nil, kerr.DuplicateEntry.New(err.Error())
		}
		return nil, kerr.BackendError.New(err.Error())
	}
	_ = name
	return row, nil
}

func isDuplicateKey(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value")
}

func (d *Driver) Upsert(ctx *quarksql.EvalContext, sel *selection.Selection) (driver.UpsertResult, error) {
	var result driver.UpsertResult
	name, _ := sel.TableName()
	for _, row := range sel.Upsert.Rows {
		cols := make([]string, 0, len(row))
		placeholders := make([]string, 0, len(row))
		updates := make([]string, 0, len(row))
		args := make([]interface{}, 0, len(row))
		i := 0
		for col, v := range row {
			i++
			cols = append(cols, hooks{}.QuoteIdent(col))
			args = append(args, v)
			placeholders = append(placeholders, hooks{}.Placeholder(i))
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", hooks{}.QuoteIdent(col), hooks{}.QuoteIdent(col)))
		}
		conflictCols := make([]string, len(sel.Upsert.Keys))
		for i, k := range sel.Upsert.Keys {
			conflictCols[i] = hooks{}.QuoteIdent(k)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			hooks{}.QuoteIdent(name), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
			strings.Join(conflictCols, ", "), strings.Join(updates, ", "))
		tag, err := d.q().Exec(ctx, query, args...)
		if err != nil {
			return driver.UpsertResult{}, kerr.BackendError.New(err.Error())
		}
		if tag.RowsAffected() > 0 {
			result.Matched++
		} else {
			result.Inserted++
		}
	}
	return result, nil
}

func (d *Driver) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return kerr.BackendError.New(err.Error())
	}
	d.tx = tx
	defer func() { d.tx = nil }()
	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (d *Driver) Drop(ctx context.Context, table string) error {
	_, err := d.pool.Exec(ctx, "DROP TABLE IF EXISTS "+hooks{}.QuoteIdent(table))
	return err
}

func (d *Driver) DropAll(ctx context.Context) error {
	return kerr.UnsupportedExpression.New("DropAll is not supported against a live PostgreSQL instance")
}

func (d *Driver) Stats(ctx context.Context) (driver.Stats, error) {
	return driver.Stats{Tables: map[string]int64{}}, nil
}

func (d *Driver) CreateIndex(ctx context.Context, table string, fields []string, unique bool) error {
	kind := ""
	if unique {
		kind = "UNIQUE "
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = hooks{}.QuoteIdent(f)
	}
	name := hooks{}.QuoteIdent(table + "_" + strings.Join(fields, "_") + "_idx")
	_, err := d.pool.Exec(ctx, fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", kind, name, hooks{}.QuoteIdent(table), strings.Join(quoted, ", ")))
	return err
}

func (d *Driver) DropIndex(ctx context.Context, table, name string) error {
	_, err := d.pool.Exec(ctx, "DROP INDEX IF EXISTS "+hooks{}.QuoteIdent(name))
	return err
}

func (d *Driver) GetIndexes(ctx context.Context, table string) ([]string, error) {
	rows, err := d.pool.Query(ctx, "SELECT indexname FROM pg_indexes WHERE tablename = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

var _ driver.Driver = (*Driver)(nil)
