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

// Package expr provides the concrete sql.Expression node kinds: field
// references, literals, subqueries, and every arithmetic, comparison,
// logical and aggregate operator, along with the constructors and type
// rules the retrieval pass drives through sql.Expression.WithType.
package expr

import (
	"fmt"
	"strings"

	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/types"
)

// ref is a field reference into the row bound to Ref (e.g. "$" applied to
// a table alias and a dotted path).
type ref struct {
	tableRef string
	path     []string
	typ      sql.Type
}

// Ref builds a field-reference expression over tableRef's current row at
// path.
func Ref(tableRef string, path []string) sql.Expression {
	return ref{tableRef: tableRef, path: path}
}

func (r ref) Op() string                  { return "$" }
func (r ref) Children() []sql.Expression  { return nil }
func (r ref) Type() sql.Type              { return r.typ }
func (r ref) WithType(t sql.Type) sql.Expression {
	r.typ = t
	return r
}
func (r ref) WithChildren(children []sql.Expression) (sql.Expression, error) {
	if len(children) != 0 {
		return nil, kerr.ModelMismatch.New("$ takes no children")
	}
	return r, nil
}
func (r ref) String() string {
	return fmt.Sprintf("$(%s, %s)", r.tableRef, strings.Join(r.path, "."))
}
func (r ref) Eval(ctx *sql.EvalContext) (interface{}, error) {
	row, ok := ctx.RowFor(r.tableRef)
	if !ok {
		return nil, nil
	}
	v, _ := sql.Get(row, r.path)
	return v, nil
}

// literal is a constant value, optionally carrying a declared encoding
// hint (the Field kind it should be treated as once loaded/dumped by a
// driver's type-alias converter).
type literal struct {
	value    interface{}
	kind     sql.FieldKind
	hasKind  bool
	typ      sql.Type
}

// Literal builds a constant expression. kind, if given, overrides the
// type inferred from value's Go shape.
func Literal(value interface{}, kind ...sql.FieldKind) sql.Expression {
	l := literal{value: value}
	if len(kind) > 0 {
		l.kind = kind[0]
		l.hasKind = true
	}
	return l
}

func (l literal) Op() string                 { return "$literal" }
func (l literal) Children() []sql.Expression { return nil }
func (l literal) Type() sql.Type             { return l.typ }
func (l literal) WithType(t sql.Type) sql.Expression {
	l.typ = t
	return l
}
func (l literal) WithChildren(children []sql.Expression) (sql.Expression, error) {
	if len(children) != 0 {
		return nil, kerr.ModelMismatch.New("$literal takes no children")
	}
	return l, nil
}
func (l literal) String() string { return fmt.Sprintf("$literal(%v)", l.value) }
func (l literal) Eval(ctx *sql.EvalContext) (interface{}, error) {
	return l.value, nil
}

// ResolveType computes l's type rule: the explicit kind hint if given,
// else the inferred type of its Go value.
func (l literal) ResolveType() sql.Type {
	if l.hasKind {
		return types.FromField(l.kind)
	}
	return types.FromTerm(l.value)
}

// exec wraps a nested selection, evaluated by the Exec callback on the
// surrounding EvalContext. correlated names the outer table refs the
// wrapped selection's own filter/projection resolves against (e.g. the
// "u" in a subquery filtering on p.uid == u.id), so an enclosing
// aggregate knows which outer partition to bind before each evaluation.
type exec struct {
	selection  interface{}
	correlated []string
	typ        sql.Type
}

// Exec builds a subquery expression over selection (an opaque value; its
// concrete type is whatever the driver/selection package produces, kept
// opaque here to avoid a package-dependency cycle).
func Exec(selection interface{}) sql.Expression {
	return exec{selection: selection}
}

// ExecCorrelated builds a subquery expression like Exec, additionally
// recording the outer table refs selection resolves against. The
// retrieval pass is what computes correlated, since it is the one place
// that knows both the nested selection's own bound tables and the
// enclosing selection's.
func ExecCorrelated(selection interface{}, correlated []string) sql.Expression {
	return exec{selection: selection, correlated: correlated}
}

func (e exec) Op() string                 { return "$exec" }
func (e exec) Children() []sql.Expression { return nil }
func (e exec) Type() sql.Type             { return e.typ }
func (e exec) WithType(t sql.Type) sql.Expression {
	e.typ = t
	return e
}
func (e exec) WithChildren(children []sql.Expression) (sql.Expression, error) {
	if len(children) != 0 {
		return nil, kerr.ModelMismatch.New("$exec takes no children")
	}
	return e, nil
}
func (e exec) String() string { return "$exec(...)" }
func (e exec) Selection() interface{} { return e.selection }
func (e exec) Eval(ctx *sql.EvalContext) (interface{}, error) {
	if ctx.Exec == nil {
		return nil, kerr.DriverUnavailable.New("no executor bound for $exec")
	}
	rows, err := ctx.Exec(ctx, e.selection)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LiteralType returns e's resolved type and true if e is a $literal node.
func LiteralType(e sql.Expression) (sql.Type, bool) {
	l, ok := e.(literal)
	if !ok {
		return nil, false
	}
	return l.ResolveType(), true
}

// LiteralValue returns e's constant Go value and true if e is a $literal
// node.
func LiteralValue(e sql.Expression) (interface{}, bool) {
	l, ok := e.(literal)
	if !ok {
		return nil, false
	}
	return l.value, true
}

// RefParts returns the table ref and dotted path of e, and true if e is a
// "$" field reference node.
func RefParts(e sql.Expression) (string, []string, bool) {
	r, ok := e.(ref)
	if !ok {
		return "", nil, false
	}
	return r.tableRef, r.path, true
}

// ExecSelection returns the nested selection wrapped by e, and true if e
// is a $exec node.
func ExecSelection(e sql.Expression) (interface{}, bool) {
	x, ok := e.(exec)
	if !ok {
		return nil, false
	}
	return x.selection, true
}

// ExecCorrelatedRefs returns the outer table refs e's wrapped selection
// resolves against, and true if e is a $exec node.
func ExecCorrelatedRefs(e sql.Expression) ([]string, bool) {
	x, ok := e.(exec)
	if !ok {
		return nil, false
	}
	return x.correlated, true
}

// RefsIn returns the set of table refs any "$" field-reference node
// reachable from e resolves against. It does not descend into a nested
// $exec's own selection (that selection's refs are its own concern); it
// only sees the correlated refs already recorded on that $exec node.
func RefsIn(e sql.Expression) map[string]bool {
	refs := map[string]bool{}
	collectRefs(e, refs)
	return refs
}
