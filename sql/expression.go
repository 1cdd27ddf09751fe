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

package sql

// Expression is the contract every node of the expression tree satisfies:
// field references, literals, subqueries, and every arithmetic/comparison/
// aggregate operator. Concrete node kinds live in sql/expr; this package
// only needs the shape so that Type, Selection-adjacent code, and the
// retrieval pass can all operate on "an Expression" without importing
// sql/expr themselves (sql/expr imports this package, not the other way
// around).
type Expression interface {
	// Op returns the operator name this node carries — "$" for a field
	// reference, "$literal", "$exec", "$sum", and so on. Leaf nodes
	// (ref/literal/exec) still report an Op so the retrieval pass and
	// executor can dispatch on it uniformly.
	Op() string

	// Children returns this node's operands in order. Leaves return
	// nil.
	Children() []Expression

	// WithChildren returns a copy of this node with its operands
	// replaced, used by the retrieval pass when a child's subquery
	// needs rebinding. Must error if the child count doesn't match
	// arity.
	WithChildren(children []Expression) (Expression, error)

	// Type returns the cached resolved type, or nil before the
	// retrieval pass has visited this node.
	Type() Type

	// WithType returns a copy of this node with its type cache set to
	// t. Implementations must not mutate the receiver: selections are
	// immutable values, and retrieval returns a freshly bound copy.
	WithType(t Type) Expression

	// Eval evaluates this node against ctx, which carries the row(s)
	// in scope for every ref reachable from this expression. Aggregate
	// operators consult ctx.Aggregate instead of ctx.Rows.
	Eval(ctx *EvalContext) (interface{}, error)

	// String renders the expression for diagnostics/tests.
	String() string
}

// IsAggregateOp reports whether name is one of the aggregate operator
// names: $sum, $avg, $min, $max, $count, $length, $array.
func IsAggregateOp(name string) bool {
	switch name {
	case "$sum", "$avg", "$min", "$max", "$count", "$length", "$array":
		return true
	default:
		return false
	}
}

// IsAggregate reports whether expr is an aggregate expression: its root is
// an aggregate operator, or any child that is itself structurally
// non-aggregate contains an aggregate.
func IsAggregate(expr Expression) bool {
	if expr == nil {
		return false
	}
	if IsAggregateOp(expr.Op()) {
		return true
	}
	for _, c := range expr.Children() {
		if IsAggregate(c) {
			return true
		}
	}
	return false
}
