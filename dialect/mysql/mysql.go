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

// Package mysql wires the shared SQL compiler to a MySQL/MariaDB
// connection through database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	quarksql "github.com/quarkdb/quark/sql"

	"github.com/quarkdb/quark/dialect"
	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql/selection"
)

type hooks struct{}

func (hooks) QuoteIdent(name string) string   { return "`" + strings.ReplaceAll(name, "`", "``") + "`" }
func (hooks) Placeholder(n int) string         { return "?" }
func (hooks) JSONExtract(column string, path []string) string {
	return fmt.Sprintf("JSON_EXTRACT(%s, '$.%s')", column, strings.Join(path, "."))
}
func (hooks) Regex(value, pattern string) string { return fmt.Sprintf("%s REGEXP %s", value, pattern) }
func (hooks) Now() string                        { return "NOW()" }

// querier is the subset of *sql.DB and *sql.Tx every operation runs
// through, so a WithTransaction-bound call reaches the open transaction
// instead of a fresh connection.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Driver is the MySQL/MariaDB backend.
type Driver struct {
	db   *sql.DB
	tx   *sql.Tx
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
	return d.db
}

// New returns a Driver that connects lazily on Start.
func New(dsn string) *Driver {
	return &Driver{
		dsn:  dsn,
		comp: dialect.New(hooks{}),
		log:  logrus.WithField("driver", "mysql"),
	}
}

func (d *Driver) Start(ctx context.Context) error {
	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	if err := db.PingContext(ctx); err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	d.db = db
	d.log.Info("connected")
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Driver) Prepare(ctx context.Context, table string) error {
	// Schema migration (legacy column renames, new-column DDL) is
	// deployment-specific; the compiler only needs an existing table to
	// target. Left to operator-run migrations.
	return nil
}

func (d *Driver) Get(ctx *quarksql.EvalContext, sel *selection.Selection) ([]quarksql.Row, error) {
	query, args, err := d.comp.CompileSelect(sel)
	if err != nil {
		return nil, err
	}
	rows, err := d.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerr.BackendError.New(err.Error())
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]quarksql.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, kerr.BackendError.New(err.Error())
	}
	var out []quarksql.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, kerr.BackendError.New(err.Error())
		}
		row := map[string]interface{}{}
		for i, c := range cols {
			row[c] = vals[i]
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
	row := d.q().QueryRowContext(ctx, query, args...)
	var v interface{}
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
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
	res, err := d.q().ExecContext(ctx, query, args...)
	if err != nil {
		return driver.SetResult{}, kerr.BackendError.New(err.Error())
	}
	n, _ := res.RowsAffected()
	return driver.SetResult{Matched: n, Modified: &n}, nil
}

func (d *Driver) Remove(ctx *quarksql.EvalContext, sel *selection.Selection) (driver.RemoveResult, error) {
	query, args, err := d.comp.CompileDelete(sel)
	if err != nil {
		return driver.RemoveResult{}, err
	}
	res, err := d.q().ExecContext(ctx, query, args...)
	if err != nil {
		return driver.RemoveResult{}, kerr.BackendError.New(err.Error())
	}
	n, _ := res.RowsAffected()
	return driver.RemoveResult{Removed: n}, nil
}

func (d *Driver) Create(ctx *quarksql.EvalContext, sel *selection.Selection) (quarksql.Row, error) {
	query, args, err := d.comp.CompileInsert(sel)
	if err != nil {
		return nil, err
	}
	res, err := d.q().ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, kerr.DuplicateEntry.New(err.Error())
		}
		return nil, kerr.BackendError.New(err.Error())
	}
	row := map[string]interface{}{}
	for k, v := range sel.Create.Row {
		row[k] = v
	}
	if sel.Model.AutoInc && len(sel.Model.Primary) == 1 {
		id, err := res.LastInsertId()
		if err == nil {
			row[sel.Model.Primary[0]] = id
		}
	}
	return row, nil
}

func isDuplicateKey(err error) bool {
	return strings.Contains(err.Error(), "Duplicate entry")
}

func (d *Driver) Upsert(ctx *quarksql.EvalContext, sel *selection.Selection) (driver.UpsertResult, error) {
	var result driver.UpsertResult
	name, _ := sel.TableName()
	for _, row := range sel.Upsert.Rows {
		cols := make([]string, 0, len(row))
		placeholders := make([]string, 0, len(row))
		updates := make([]string, 0, len(row))
		args := make([]interface{}, 0, len(row)*2)
		for col, v := range row {
			cols = append(cols, hooks{}.QuoteIdent(col))
			args = append(args, v)
			placeholders = append(placeholders, "?")
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", hooks{}.QuoteIdent(col), hooks{}.QuoteIdent(col)))
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			hooks{}.QuoteIdent(name), strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
		res, err := d.q().ExecContext(ctx, query, args...)
		if err != nil {
			return driver.UpsertResult{}, kerr.BackendError.New(err.Error())
		}
		n, _ := res.RowsAffected()
		if n > 1 {
			result.Matched++
		} else {
			result.Inserted++
		}
	}
	return result, nil
}

func (d *Driver) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return kerr.BackendError.New(err.Error())
	}
	d.tx = tx
	defer func() { d.tx = nil }()
	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *Driver) Drop(ctx context.Context, table string) error {
	_, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+hooks{}.QuoteIdent(table))
	return err
}

func (d *Driver) DropAll(ctx context.Context) error {
	return kerr.UnsupportedExpression.New("DropAll is not supported against a live MySQL instance")
}

func (d *Driver) Stats(ctx context.Context) (driver.Stats, error) {
	return driver.Stats{Tables: map[string]int64{}}, nil
}

func (d *Driver) CreateIndex(ctx context.Context, table string, fields []string, unique bool) error {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = hooks{}.QuoteIdent(f)
	}
	name := hooks{}.QuoteIdent(table + "_" + strings.Join(fields, "_"))
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, name, hooks{}.QuoteIdent(table), strings.Join(quoted, ", ")))
	return err
}

func (d *Driver) DropIndex(ctx context.Context, table, name string) error {
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("DROP INDEX %s ON %s", hooks{}.QuoteIdent(name), hooks{}.QuoteIdent(table)))
	return err
}

func (d *Driver) GetIndexes(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SHOW INDEX FROM "+hooks{}.QuoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, c := range cols {
			if c == "Key_name" {
				if s, ok := vals[i].(string); ok {
					names = append(names, s)
				}
			}
		}
	}
	return names, rows.Err()
}

var _ driver.Driver = (*Driver)(nil)
