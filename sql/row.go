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

// Package sql declares the core contracts shared by every piece of the
// query engine: the row representation, the structural type system, the
// expression interface, and the evaluation context a driver hands to
// expressions while it executes a selection. Concrete implementations
// (leaf/array/object types, expression node kinds, filter predicates,
// selections, drivers) live in subpackages that import this one; this
// package itself has no dependency on any of them, so nothing here ever
// needs to know about SQL dialects, Mongo, or the in-memory executor.
package sql

import "context"

// Row is a single result row, keyed by top-level field name. Nested
// object/JSON-shaped fields are themselves map[string]interface{}; arrays
// are []interface{}. Row is an alias (not a defined type) so that Get/Set
// and any code holding a bare map[string]interface{} row value interact
// with it without conversion.
type Row = map[string]interface{}

// Get returns the value at path within a row value, descending through
// map[string]interface{} and []interface{} layers as dictated by dotted
// path segments. A missing segment returns (nil, false).
func Get(v interface{}, path []string) (interface{}, bool) {
	cur := v
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set returns a copy of v with path set to value, creating intermediate
// map[string]interface{} layers as needed. Used by update execution to
// merge a partial document into an existing row without mutating it.
func Set(v interface{}, path []string, value interface{}) interface{} {
	if len(path) == 0 {
		return value
	}
	m, ok := v.(map[string]interface{})
	if !ok || m == nil {
		m = map[string]interface{}{}
	} else {
		cp := make(map[string]interface{}, len(m))
		for k, val := range m {
			cp[k] = val
		}
		m = cp
	}
	m[path[0]] = Set(m[path[0]], path[1:], value)
	return m
}

// EvalContext is threaded through expression evaluation. It carries the
// cancellation/deadline surface (context.Context), the rows bound to each
// table ref reachable in the current selection (so a field reference
// `$(ref, path)` can be resolved against the right row), and a handle back
// to whatever is running nested selections (subqueries).
type EvalContext struct {
	context.Context

	// Rows maps a selection ref to the row currently in scope for it.
	// A join's Cartesian product binds one entry per joined ref.
	Rows map[string]Row

	// Aggregate, when set, indicates the expression is being evaluated
	// against a partition (group) of rows rather than a single row,
	// keyed the same way as Rows but with a slice of rows per ref.
	Aggregate map[string][]Row

	// Exec runs a nested selection (the `$exec` operator and join/
	// subquery table sources) and returns its rows. The concrete type
	// behind it is whatever the dispatching driver/facade supplies;
	// declaring it as a function value here keeps this package free of
	// a dependency on the selection or driver packages.
	Exec func(ctx *EvalContext, selection interface{}) ([]Row, error)
}

// RowFor looks up the row bound to ref. There is no fallback: a ref with
// no entry in Rows reports (nil, false).
func (c *EvalContext) RowFor(ref string) (Row, bool) {
	r, ok := c.Rows[ref]
	return r, ok
}

// WithRow returns a shallow copy of the context with ref bound to row,
// used when recursing into per-row evaluation of a join/group partition.
func (c *EvalContext) WithRow(ref string, row Row) *EvalContext {
	cp := *c
	cp.Rows = make(map[string]Row, len(c.Rows)+1)
	for k, v := range c.Rows {
		cp.Rows[k] = v
	}
	cp.Rows[ref] = row
	return &cp
}
