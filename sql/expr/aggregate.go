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

package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/types"
)

// aggregate is the node kind for every aggregate operator: $sum, $avg,
// $min, $max, $count, $length, $array. It always has exactly one child,
// evaluated once per row of the partition currently in scope rather than
// once per EvalContext.
type aggregate struct {
	name  string
	child sql.Expression
	typ   sql.Type
}

var aggregateArgs = map[string]bool{
	"$sum": true, "$avg": true, "$min": true, "$max": true,
	"$count": true, "$length": true, "$array": true,
}

// NewAggregate builds an aggregate node. Unlike New, this always takes
// exactly one operand, per the operator table.
func NewAggregate(name string, child sql.Expression) (sql.Expression, error) {
	if !aggregateArgs[name] {
		return nil, kerr.UnsupportedExpression.New(name)
	}
	return aggregate{name: name, child: child}, nil
}

func (a aggregate) Op() string                 { return a.name }
func (a aggregate) Children() []sql.Expression { return []sql.Expression{a.child} }
func (a aggregate) Type() sql.Type             { return a.typ }
func (a aggregate) WithType(t sql.Type) sql.Expression {
	a.typ = t
	return a
}
func (a aggregate) WithChildren(children []sql.Expression) (sql.Expression, error) {
	if len(children) != 1 {
		return nil, kerr.ModelMismatch.New(fmt.Sprintf("%s: expects exactly one child", a.name))
	}
	return NewAggregate(a.name, children[0])
}
func (a aggregate) String() string { return fmt.Sprintf("%s(%s)", a.name, a.child.String()) }

// AggregateTypeRule resolves the result type of an aggregate node: $sum,
// $avg, $count, $length always produce Number; $min, $max unwrap one
// Array level of the child's type, falling back to Number; $array wraps
// the child's type in Array.
func AggregateTypeRule(name string, child sql.Expression) sql.Type {
	switch name {
	case "$sum", "$avg", "$count", "$length":
		return types.Number
	case "$min", "$max":
		if inner := types.Inner(child.Type(), ""); inner != nil {
			return inner
		}
		return types.Number
	case "$array":
		return types.NewArray(child.Type())
	default:
		return types.Expr
	}
}

func collectRefs(e sql.Expression, into map[string]bool) {
	if e == nil {
		return
	}
	if r, ok := e.(ref); ok {
		into[r.tableRef] = true
		return
	}
	if x, ok := e.(exec); ok {
		for _, r := range x.correlated {
			into[r] = true
		}
		return
	}
	for _, c := range e.Children() {
		collectRefs(c, into)
	}
}

// partitionValues evaluates child once per row of whatever partition is in
// scope: if any table ref it reaches has an entry in ctx.Aggregate, the
// child is evaluated once per row of that partition; otherwise it is
// evaluated once against the single row currently bound (a bare field or
// scalar expression used outside a group still has *some* aggregate
// semantics, e.g. $length(field) on a non-grouped selection).
func partitionValues(ctx *sql.EvalContext, child sql.Expression) ([]interface{}, error) {
	refs := map[string]bool{}
	collectRefs(child, refs)

	n := 1
	partitioned := false
	var partitionRef string
	for r := range refs {
		if rows, ok := ctx.Aggregate[r]; ok {
			n = len(rows)
			partitioned = true
			partitionRef = r
			break
		}
	}
	_ = partitionRef

	vals := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rowCtx := ctx
		if partitioned {
			cp := *ctx
			cp.Rows = make(map[string]sql.Row, len(ctx.Rows)+len(refs))
			for k, v := range ctx.Rows {
				cp.Rows[k] = v
			}
			for r := range refs {
				if rows, ok := ctx.Aggregate[r]; ok && i < len(rows) {
					cp.Rows[r] = rows[i]
				}
			}
			rowCtx = &cp
		}
		v, err := child.Eval(rowCtx)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// flattenRows unwraps any []sql.Row value in vals (the shape a $exec
// subquery evaluates to) into the scalar values its rows project, so an
// aggregate over $exec(selection.project(field)) folds the subquery's
// rows the same way it folds a plain field reference's per-row values.
// Values of any other shape pass through unchanged.
func flattenRows(vals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		rows, ok := v.([]sql.Row)
		if !ok {
			out = append(out, v)
			continue
		}
		for _, row := range rows {
			out = append(out, rowScalar(row))
		}
	}
	return out
}

// rowScalar extracts the sole projected value from row, the shape a
// single-field projection produces. A row with more than one field has
// no unambiguous scalar to extract and is passed through as-is.
func rowScalar(row sql.Row) interface{} {
	if len(row) == 1 {
		for _, v := range row {
			return v
		}
	}
	return row
}

// Eval implements the default-value-on-empty contract: $sum over empty ->
// 0, $avg/$min/$max over empty -> nil, $count/$length over empty -> 0,
// $array over empty -> [].
func (a aggregate) Eval(ctx *sql.EvalContext) (interface{}, error) {
	vals, err := partitionValues(ctx, a.child)
	if err != nil {
		return nil, err
	}
	vals = flattenRows(vals)
	nonNull := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		if v != nil {
			nonNull = append(nonNull, v)
		}
	}

	switch a.name {
	case "$sum":
		acc := 0.0
		for _, v := range nonNull {
			f, _ := asFloat(v)
			acc += f
		}
		return acc, nil
	case "$avg":
		if len(nonNull) == 0 {
			return nil, nil
		}
		acc := 0.0
		for _, v := range nonNull {
			f, _ := asFloat(v)
			acc += f
		}
		return acc / float64(len(nonNull)), nil
	case "$min":
		if len(nonNull) == 0 {
			return nil, nil
		}
		best := nonNull[0]
		for _, v := range nonNull[1:] {
			if compareValues(v, best) < 0 {
				best = v
			}
		}
		return best, nil
	case "$max":
		if len(nonNull) == 0 {
			return nil, nil
		}
		best := nonNull[0]
		for _, v := range nonNull[1:] {
			if compareValues(v, best) > 0 {
				best = v
			}
		}
		return best, nil
	case "$count":
		return float64(len(nonNull)), nil
	case "$length":
		return float64(len(vals)), nil
	case "$array":
		return append([]interface{}{}, vals...), nil
	default:
		return nil, kerr.UnsupportedExpression.New(a.name)
	}
}

// object builds a structural document from named expressions: $object
// with result type Object{key -> typeOf(value)}.
type object struct {
	fields map[string]sql.Expression
	order  []string
	typ    sql.Type
}

// NewObject builds a $object node over fields, preserving key order for
// deterministic String() rendering.
func NewObject(fields map[string]sql.Expression) sql.Expression {
	order := make([]string, 0, len(fields))
	for k := range fields {
		order = append(order, k)
	}
	sort.Strings(order)
	return object{fields: fields, order: order}
}

func (o object) Op() string { return "$object" }
func (o object) Children() []sql.Expression {
	children := make([]sql.Expression, len(o.order))
	for i, k := range o.order {
		children[i] = o.fields[k]
	}
	return children
}
func (o object) Type() sql.Type { return o.typ }
func (o object) WithType(t sql.Type) sql.Expression {
	o.typ = t
	return o
}
func (o object) WithChildren(children []sql.Expression) (sql.Expression, error) {
	if len(children) != len(o.order) {
		return nil, kerr.ModelMismatch.New("$object: child count must match field count")
	}
	fields := make(map[string]sql.Expression, len(children))
	for i, k := range o.order {
		fields[k] = children[i]
	}
	return object{fields: fields, order: o.order}, nil
}
func (o object) String() string {
	parts := make([]string, len(o.order))
	for i, k := range o.order {
		parts[i] = fmt.Sprintf("%s: %s", k, o.fields[k].String())
	}
	return fmt.Sprintf("$object{%s}", strings.Join(parts, ", "))
}
func (o object) Eval(ctx *sql.EvalContext) (interface{}, error) {
	result := make(map[string]interface{}, len(o.order))
	for _, k := range o.order {
		v, err := o.fields[k].Eval(ctx)
		if err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, nil
}

// ObjectFields returns o's field map and true if e is a $object node.
func ObjectFields(e sql.Expression) (map[string]sql.Expression, bool) {
	o, ok := e.(object)
	if !ok {
		return nil, false
	}
	return o.fields, true
}

// ObjectTypeRule resolves an $object node's result type from each field's
// cached type.
func ObjectTypeRule(e sql.Expression) sql.Type {
	o, ok := e.(object)
	if !ok {
		return types.Expr
	}
	fields := make(map[string]sql.Type, len(o.order))
	for _, k := range o.order {
		fields[k] = o.fields[k].Type()
	}
	return types.NewObject(fields)
}

// AggregateParts returns the operator name and single child of e, and
// true if e is an aggregate node ($sum/$avg/$min/$max/$count/$length/
// $array).
func AggregateParts(e sql.Expression) (string, sql.Expression, bool) {
	a, ok := e.(aggregate)
	if !ok {
		return "", nil, false
	}
	return a.name, a.child, true
}

// selectNode implements $select: n expressions evaluated independently
// and collected into an array, result type Array.
type selectNode struct {
	children []sql.Expression
	typ      sql.Type
}

// NewSelect builds a $select node.
func NewSelect(children ...sql.Expression) sql.Expression {
	return selectNode{children: children}
}

func (s selectNode) Op() string                 { return "$select" }
func (s selectNode) Children() []sql.Expression { return s.children }
func (s selectNode) Type() sql.Type             { return s.typ }
func (s selectNode) WithType(t sql.Type) sql.Expression {
	s.typ = t
	return s
}
func (s selectNode) WithChildren(children []sql.Expression) (sql.Expression, error) {
	return selectNode{children: children}, nil
}
func (s selectNode) String() string {
	parts := make([]string, len(s.children))
	for i, c := range s.children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("$select(%s)", strings.Join(parts, ", "))
}
func (s selectNode) Eval(ctx *sql.EvalContext) (interface{}, error) {
	out := make([]interface{}, len(s.children))
	for i, c := range s.children {
		v, err := c.Eval(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
