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

// Package dialect provides the shared SQL-compiler skeleton every
// relational backend (MySQL/MariaDB, PostgreSQL, SQLite) wires its
// dialect-specific hooks into: identifier/string escaping, field-path
// lowering (plain column vs. JSON-extract), predicate lowering, and
// selection-to-statement compilation. Dialect packages supply a Hooks
// value and get a full Driver-shaped SQL compiler in return.
package dialect

import (
	"fmt"
	"strings"

	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
)

// Hooks is the set of dialect-specific decisions the shared compiler
// defers to: how identifiers and strings are quoted, how a JSON path is
// extracted from a column, how placeholders are numbered, and how a
// handful of operators that have no common SQL spelling are rendered.
type Hooks interface {
	QuoteIdent(name string) string
	Placeholder(n int) string
	JSONExtract(column string, path []string) string
	Regex(value, pattern string) string
	Now() string
}

// Compiler lowers Selections and filter Queries to parameterised SQL text
// using Hooks for the dialect-specific spellings.
type Compiler struct {
	Hooks Hooks
}

// New returns a Compiler using hooks.
func New(hooks Hooks) *Compiler {
	return &Compiler{Hooks: hooks}
}

// fieldColumn lowers a dotted path to a SQL column reference: a bare
// column for a top-level scalar field, or a JSON-extract expression when
// the leading segment names a declared object/json field.
func (c *Compiler) fieldColumn(m model.Model, alias string, path []string) string {
	col := c.Hooks.QuoteIdent(alias) + "." + c.Hooks.QuoteIdent(path[0])
	if len(path) == 1 {
		return col
	}
	if f, ok := m.Fields[path[0]]; ok && (f.Kind == sql.KindJSON || f.Kind == sql.KindList) {
		return c.Hooks.JSONExtract(col, path[1:])
	}
	return col
}

// CompileSelect lowers a `get` Selection to a SELECT statement shape per
// the grammar `SELECT <projection> FROM <source>[<WHERE>][<GROUP BY>
// [<HAVING>]][<ORDER BY>][<LIMIT>[<OFFSET>]]`.
func (c *Compiler) CompileSelect(sel *selection.Selection) (string, []interface{}, error) {
	var b strings.Builder
	var args []interface{}

	fields := sel.Get.Fields
	if fields == nil {
		fields = sel.Model.DefaultProjection()
	}
	projections := make([]string, len(fields))
	for i, f := range fields {
		col := c.Hooks.QuoteIdent(f)
		projections[i] = fmt.Sprintf("%s AS %s", col, col)
	}
	if len(projections) == 0 {
		projections = []string{"*"}
	}

	name, ok := sel.TableName()
	if !ok {
		return "", nil, kerr.UnsupportedExpression.New("compiling a join or nested selection requires the subselect path")
	}

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(projections, ", "))
	b.WriteString(" FROM ")
	b.WriteString(c.Hooks.QuoteIdent(name))
	b.WriteString(" AS ")
	b.WriteString(c.Hooks.QuoteIdent(sel.Ref))

	if !sel.Query.IsEmpty() {
		where, whereArgs, err := c.compileQuery(sel.Model, sel.Ref, sel.Query, &args)
		if err != nil {
			return "", nil, err
		}
		_ = whereArgs
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(sel.Get.Group) > 0 {
		quoted := make([]string, len(sel.Get.Group))
		for i, g := range sel.Get.Group {
			quoted[i] = c.Hooks.QuoteIdent(g)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(quoted, ", "))

		if !sel.Get.Having.IsEmpty() {
			having, _, err := c.compileQuery(sel.Model, sel.Ref, sel.Get.Having, &args)
			if err != nil {
				return "", nil, err
			}
			b.WriteString(" HAVING ")
			b.WriteString(having)
		}
	}

	if len(sel.Get.Sort) > 0 {
		terms := make([]string, len(sel.Get.Sort))
		for i, t := range sel.Get.Sort {
			expr, _, err := c.compileExpr(sel.Model, sel.Ref, t.Expr, &args)
			if err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if t.Desc {
				dir = "DESC"
			}
			terms[i] = fmt.Sprintf("%s %s", expr, dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if sel.Get.Limit > 0 && sel.Get.Limit < selection.DefaultLimit {
		fmt.Fprintf(&b, " LIMIT %d", sel.Get.Limit)
	}
	if sel.Get.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", sel.Get.Offset)
	}

	return b.String(), args, nil
}

// CompileUpdate lowers a `set` Selection to an UPDATE statement. Each
// update key is passed whole to Hooks.QuoteIdent as the target column: a
// dotted path is not lowered to a JSON merge+set, and intermediate
// objects are not created.
func (c *Compiler) CompileUpdate(sel *selection.Selection) (string, []interface{}, error) {
	name, ok := sel.TableName()
	if !ok {
		return "", nil, kerr.UnsupportedExpression.New("set requires a bare table selection")
	}

	var args []interface{}
	sets := make([]string, 0, len(sel.Set.Updates))
	for path, e := range sel.Set.Updates {
		val, _, err := c.compileExpr(sel.Model, sel.Ref, e, &args)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", c.Hooks.QuoteIdent(path), val))
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(c.Hooks.QuoteIdent(name))
	b.WriteString(" AS ")
	b.WriteString(c.Hooks.QuoteIdent(sel.Ref))
	b.WriteString(" SET ")
	b.WriteString(strings.Join(sets, ", "))

	if !sel.Query.IsEmpty() {
		where, _, err := c.compileQuery(sel.Model, sel.Ref, sel.Query, &args)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String(), args, nil
}

// CompileDelete lowers a `remove` Selection to a DELETE statement.
func (c *Compiler) CompileDelete(sel *selection.Selection) (string, []interface{}, error) {
	name, ok := sel.TableName()
	if !ok {
		return "", nil, kerr.UnsupportedExpression.New("remove requires a bare table selection")
	}
	var args []interface{}
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(c.Hooks.QuoteIdent(name))
	b.WriteString(" AS ")
	b.WriteString(c.Hooks.QuoteIdent(sel.Ref))
	if !sel.Query.IsEmpty() {
		where, _, err := c.compileQuery(sel.Model, sel.Ref, sel.Query, &args)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String(), args, nil
}

// CompileInsert lowers a `create` Selection to an INSERT statement.
func (c *Compiler) CompileInsert(sel *selection.Selection) (string, []interface{}, error) {
	name, ok := sel.TableName()
	if !ok {
		return "", nil, kerr.UnsupportedExpression.New("create requires a bare table selection")
	}
	cols := make([]string, 0, len(sel.Create.Row))
	placeholders := make([]string, 0, len(sel.Create.Row))
	args := make([]interface{}, 0, len(sel.Create.Row))
	for col, v := range sel.Create.Row {
		cols = append(cols, c.Hooks.QuoteIdent(col))
		args = append(args, v)
		placeholders = append(placeholders, c.Hooks.Placeholder(len(args)))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.Hooks.QuoteIdent(name), strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args, nil
}

func (c *Compiler) compileQuery(m model.Model, ref string, q filter.Query, args *[]interface{}) (string, []interface{}, error) {
	var clauses []string

	for _, matcher := range q.Matchers {
		clause, err := c.compileMatcher(m, ref, matcher, args)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
	}

	if q.Or != nil {
		if len(q.Or) == 0 {
			clauses = append(clauses, "FALSE")
		} else {
			parts := make([]string, len(q.Or))
			for i, sub := range q.Or {
				p, _, err := c.compileQuery(m, ref, sub, args)
				if err != nil {
					return "", nil, err
				}
				parts[i] = "(" + p + ")"
			}
			clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
		}
	}

	for _, sub := range q.And {
		p, _, err := c.compileQuery(m, ref, sub, args)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "("+p+")")
	}

	if q.Not != nil {
		p, _, err := c.compileQuery(m, ref, *q.Not, args)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "NOT ("+p+")")
	}

	if q.Expr != nil {
		e, _, err := c.compileExpr(m, ref, q.Expr, args)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, e)
	}

	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	// An AND containing any literal FALSE short-circuits.
	for _, cl := range clauses {
		if cl == "FALSE" {
			return "FALSE", nil, nil
		}
	}
	return strings.Join(clauses, " AND "), nil, nil
}

func (c *Compiler) compileMatcher(m model.Model, ref string, fm filter.FieldMatcher, args *[]interface{}) (string, error) {
	col := c.fieldColumn(m, ref, fm.Path)
	bind := func(v interface{}) string {
		*args = append(*args, v)
		return c.Hooks.Placeholder(len(*args))
	}

	switch fm.Kind {
	case filter.Eq:
		return fmt.Sprintf("%s = %s", col, bind(fm.Value)), nil
	case filter.Ne:
		return fmt.Sprintf("%s <> %s", col, bind(fm.Value)), nil
	case filter.Lt:
		return fmt.Sprintf("%s < %s", col, bind(fm.Value)), nil
	case filter.Lte:
		return fmt.Sprintf("%s <= %s", col, bind(fm.Value)), nil
	case filter.Gt:
		return fmt.Sprintf("%s > %s", col, bind(fm.Value)), nil
	case filter.Gte:
		return fmt.Sprintf("%s >= %s", col, bind(fm.Value)), nil
	case filter.Exists:
		if want, _ := fm.Value.(bool); want {
			return fmt.Sprintf("%s IS NOT NULL", col), nil
		}
		return fmt.Sprintf("%s IS NULL", col), nil
	case filter.Regex, filter.RegexFor:
		pattern, _ := fm.Value.(string)
		return c.Hooks.Regex(col, pattern), nil
	case filter.In, filter.Nin:
		arr, _ := fm.Value.([]interface{})
		placeholders := make([]string, len(arr))
		for i, v := range arr {
			placeholders[i] = bind(v)
		}
		op := "IN"
		if fm.Kind == filter.Nin {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), nil
	default:
		return "", kerr.UnsupportedExpression.New(fmt.Sprintf("matcher kind %q has no SQL lowering", fm.Kind))
	}
}

func (c *Compiler) compileExpr(m model.Model, ref string, e sql.Expression, args *[]interface{}) (string, []interface{}, error) {
	if tableRef, path, ok := expr.RefParts(e); ok {
		return c.fieldColumn(m, tableRef, path), nil, nil
	}
	if v, ok := expr.LiteralValue(e); ok {
		*args = append(*args, v)
		return c.Hooks.Placeholder(len(*args)), nil, nil
	}

	children := e.Children()
	parts := make([]string, len(children))
	for i, child := range children {
		p, _, err := c.compileExpr(m, ref, child, args)
		if err != nil {
			return "", nil, err
		}
		parts[i] = p
	}

	switch e.Op() {
	case "$add":
		return "(" + strings.Join(parts, " + ") + ")", nil, nil
	case "$subtract":
		return "(" + strings.Join(parts, " - ") + ")", nil, nil
	case "$multiply":
		return "(" + strings.Join(parts, " * ") + ")", nil, nil
	case "$divide":
		return "(" + strings.Join(parts, " / ") + ")", nil, nil
	case "$eq":
		return fmt.Sprintf("(%s = %s)", parts[0], parts[1]), nil, nil
	case "$ne":
		return fmt.Sprintf("(%s <> %s)", parts[0], parts[1]), nil, nil
	case "$gt":
		return fmt.Sprintf("(%s > %s)", parts[0], parts[1]), nil, nil
	case "$gte":
		return fmt.Sprintf("(%s >= %s)", parts[0], parts[1]), nil, nil
	case "$lt":
		return fmt.Sprintf("(%s < %s)", parts[0], parts[1]), nil, nil
	case "$lte":
		return fmt.Sprintf("(%s <= %s)", parts[0], parts[1]), nil, nil
	case "$and":
		return "(" + strings.Join(parts, " AND ") + ")", nil, nil
	case "$or":
		return "(" + strings.Join(parts, " OR ") + ")", nil, nil
	case "$not":
		return fmt.Sprintf("(NOT %s)", parts[0]), nil, nil
	case "$concat":
		return "CONCAT(" + strings.Join(parts, ", ") + ")", nil, nil
	case "$sum":
		return "SUM(" + parts[0] + ")", nil, nil
	case "$avg":
		return "AVG(" + parts[0] + ")", nil, nil
	case "$min":
		return "MIN(" + parts[0] + ")", nil, nil
	case "$max":
		return "MAX(" + parts[0] + ")", nil, nil
	case "$count":
		return "COUNT(" + parts[0] + ")", nil, nil
	default:
		return "", nil, kerr.UnsupportedExpression.New(e.Op())
	}
}
