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

// Package retrieve implements the retrieval (type-resolution) pass: given
// a Selection built by application code, it produces a freshly bound copy
// in which every expression node carries a cached Type, every nested
// selection has been recursively retrieved, and the whole tree is bound
// to a driver and to the merged tables map of every reachable ref. The
// pass does not change what its input means, but it is not copy-free:
// sort terms, set updates and nested filter queries share their slices
// and maps with the input, which therefore sees the resolved (typed)
// expressions written back into them. Applying the pass twice to an
// already-retrieved selection is a no-op beyond re-deriving the same
// cached values.
package retrieve

import (
	"fmt"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
	"github.com/quarkdb/quark/sql/types"
)

// Context carries the registries the retrieval pass consults: the model
// registry (for table -> Model lookup) and the driver registry (for table
// -> Driver binding).
type Context struct {
	Models  *model.Registry
	Drivers *driver.Registry
}

// Retrieve runs the full pass over sel and returns a bound copy.
func (c *Context) Retrieve(sel selection.Selection) (selection.Selection, error) {
	tables := map[string]model.Model{}

	if child, ok := sel.ChildSelection(); ok {
		retrievedChild, err := c.Retrieve(*child)
		if err != nil {
			return selection.Selection{}, err
		}
		sel.Table = &retrievedChild
		for ref, m := range retrievedChild.Tables {
			tables[ref] = m
		}
		sel.Model = retrievedChild.Model
		sel.Driver = retrievedChild.Driver

	} else if joinTables, ok := sel.JoinTables(); ok {
		resolved := make(map[string]*selection.Selection, len(joinTables))
		for alias, s := range joinTables {
			retrieved, err := c.Retrieve(*s)
			if err != nil {
				return selection.Selection{}, err
			}
			resolved[alias] = &retrieved
			for ref, m := range retrieved.Tables {
				tables[ref] = m
			}
		}
		sel.Table = resolved

	} else if name, ok := sel.TableName(); ok {
		m, found := c.Models.Get(name)
		if !found {
			return selection.Selection{}, kerr.ModelMismatch.New(fmt.Sprintf("no model declared for table %q", name))
		}
		sel.Model = m
		tables[sel.Ref] = m
		if d, found := c.Drivers.DriverForTable(name); found {
			sel.Driver = d
		}

	} else {
		return selection.Selection{}, kerr.ModelMismatch.New("selection has no table source")
	}

	if _, isJoin := sel.JoinTables(); !isJoin {
		tables[sel.Ref] = sel.Model
	}
	sel.Tables = tables

	var err error
	switch sel.Type {
	case selection.OpGet:
		if sel.Get.Limit == 0 {
			sel.Get.Limit = selection.DefaultLimit
		}
		for i, term := range sel.Get.Sort {
			term.Expr, err = c.resolveExpr(tables, term.Expr)
			if err != nil {
				return selection.Selection{}, err
			}
			sel.Get.Sort[i] = term
		}
		sel.Get.Having, err = c.resolveQuery(tables, sel.Get.Having)
		if err != nil {
			return selection.Selection{}, err
		}

	case selection.OpEval:
		resolved, err := c.resolveExpr(tables, sel.Eval.Expr)
		if err != nil {
			return selection.Selection{}, err
		}
		if sql.IsAggregate(resolved) {
			resolved = resolved.WithType(types.NewArray(resolved.Type()))
		}
		sel.Eval.Expr = resolved

	case selection.OpSet:
		for path, e := range sel.Set.Updates {
			resolved, err := c.resolveExpr(tables, e)
			if err != nil {
				return selection.Selection{}, err
			}
			sel.Set.Updates[path] = resolved
		}

	case selection.OpUpsert:
		if err := c.validateRowFields(sel.Model, sel.Upsert.Rows); err != nil {
			return selection.Selection{}, err
		}

	case selection.OpCreate:
		if err := c.validateRowFields(sel.Model, []map[string]interface{}{sel.Create.Row}); err != nil {
			return selection.Selection{}, err
		}
	}

	sel.Query, err = c.resolveQuery(tables, sel.Query)
	if err != nil {
		return selection.Selection{}, err
	}

	return sel, nil
}

func (c *Context) validateRowFields(m model.Model, rows []map[string]interface{}) error {
	for _, row := range rows {
		for name := range row {
			if _, ok := m.Fields[name]; !ok {
				return kerr.ModelMismatch.New(fmt.Sprintf("%s: no such field %q", m.Name, name))
			}
		}
	}
	return nil
}

func (c *Context) resolveQuery(tables map[string]model.Model, q filter.Query) (filter.Query, error) {
	var err error
	for i, m := range q.Matchers {
		if m.Sub != nil {
			resolved, err2 := c.resolveQuery(tables, *m.Sub)
			if err2 != nil {
				return q, err2
			}
			q.Matchers[i].Sub = &resolved
		}
	}
	for i, sub := range q.And {
		q.And[i], err = c.resolveQuery(tables, sub)
		if err != nil {
			return q, err
		}
	}
	for i, sub := range q.Or {
		q.Or[i], err = c.resolveQuery(tables, sub)
		if err != nil {
			return q, err
		}
	}
	if q.Not != nil {
		resolved, err := c.resolveQuery(tables, *q.Not)
		if err != nil {
			return q, err
		}
		q.Not = &resolved
	}
	if q.Expr != nil {
		q.Expr, err = c.resolveExpr(tables, q.Expr)
		if err != nil {
			return q, err
		}
	}
	return q, nil
}

// resolveExpr resolves e's cached type, recursing into children first. If
// e already carries a cached type it is returned unchanged (the pass is
// idempotent).
func (c *Context) resolveExpr(tables map[string]model.Model, e sql.Expression) (sql.Expression, error) {
	if e == nil {
		return nil, nil
	}
	if e.Type() != nil {
		return e, nil
	}

	if tableRef, path, ok := expr.RefParts(e); ok {
		m := tables[tableRef]
		typ := m.GetType(path)
		if typ == nil {
			typ = types.Expr
		}
		return e.WithType(typ), nil
	}

	if typ, ok := expr.LiteralType(e); ok {
		return e.WithType(typ), nil
	}

	if sel, ok := expr.ExecSelection(e); ok {
		return c.resolveExec(tables, e, sel)
	}

	children := e.Children()
	resolvedChildren := make([]sql.Expression, len(children))
	for i, child := range children {
		resolved, err := c.resolveExpr(tables, child)
		if err != nil {
			return nil, err
		}
		resolvedChildren[i] = resolved
	}
	rebuilt, err := e.WithChildren(resolvedChildren)
	if err != nil {
		return nil, err
	}

	if name, child, ok := expr.AggregateParts(rebuilt); ok {
		typ := expr.AggregateTypeRule(name, child)
		if name == "$avg" || name == "$min" || name == "$max" {
			typ = typ.WithIgnoreNull(true)
		}
		return rebuilt.WithType(typ), nil
	}

	if _, ok := expr.ObjectFields(rebuilt); ok {
		return rebuilt.WithType(expr.ObjectTypeRule(rebuilt)), nil
	}

	if rebuilt.Op() == "$select" {
		var inner sql.Type
		for _, child := range resolvedChildren {
			inner = types.Join([]sql.Type{inner, child.Type()}, nil)
		}
		return rebuilt.WithType(types.NewArray(inner)), nil
	}

	return rebuilt.WithType(expr.TypeRule(rebuilt)), nil
}

func (c *Context) resolveExec(tables map[string]model.Model, e sql.Expression, rawSel interface{}) (sql.Expression, error) {
	nested, ok := rawSel.(*selection.Selection)
	if !ok {
		return e.WithType(types.Expr), nil
	}
	retrieved, err := c.Retrieve(*nested)
	if err != nil {
		return nil, err
	}

	rebuilt := expr.ExecCorrelated(&retrieved, correlatedRefs(&retrieved))

	var typ sql.Type
	switch retrieved.Type {
	case selection.OpEval:
		typ = retrieved.Eval.Expr.Type()
	case selection.OpGet:
		fields := map[string]sql.Type{}
		for name, f := range retrieved.Model.Fields {
			if f.Deprecated {
				continue
			}
			fields[name] = typeOfField(f)
		}
		typ = types.NewArray(types.NewObject(fields))
	default:
		typ = types.Expr
	}

	return rebuilt.WithType(typ), nil
}

// correlatedRefs returns the table refs sel's own filter/projection/update
// expressions resolve against that are not among sel's own bound tables —
// i.e. the outer refs a correlated subquery like
// select(p).where(p.uid == u.id) depends on ("u" here). Recorded on the
// $exec node so an enclosing aggregate can bind the right outer row
// before each evaluation instead of running the subquery once, unbound.
func correlatedRefs(sel *selection.Selection) []string {
	found := map[string]bool{}
	collectQueryRefs(sel.Query, found)
	collectQueryRefs(sel.Get.Having, found)
	for _, term := range sel.Get.Sort {
		for r := range expr.RefsIn(term.Expr) {
			found[r] = true
		}
	}
	if sel.Eval.Expr != nil {
		for r := range expr.RefsIn(sel.Eval.Expr) {
			found[r] = true
		}
	}
	for _, e := range sel.Set.Updates {
		for r := range expr.RefsIn(e) {
			found[r] = true
		}
	}

	var out []string
	for r := range found {
		if _, own := sel.Tables[r]; !own {
			out = append(out, r)
		}
	}
	return out
}

func collectQueryRefs(q filter.Query, into map[string]bool) {
	for _, m := range q.Matchers {
		if m.Sub != nil {
			collectQueryRefs(*m.Sub, into)
		}
	}
	for _, sub := range q.And {
		collectQueryRefs(sub, into)
	}
	for _, sub := range q.Or {
		collectQueryRefs(sub, into)
	}
	if q.Not != nil {
		collectQueryRefs(*q.Not, into)
	}
	if q.Expr != nil {
		for r := range expr.RefsIn(q.Expr) {
			into[r] = true
		}
	}
}

func typeOfField(f model.Field) sql.Type {
	if f.IsVirtual() {
		return f.Expr.Type()
	}
	return types.FromField(f.Kind)
}
