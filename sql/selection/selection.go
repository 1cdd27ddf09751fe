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

// Package selection defines the immutable Selection value and its
// chainable builder API. A Selection names a table source (a table name,
// a nested Selection, or a join map of alias -> Selection), a filter
// Query, an operation type, and the operation's argument payload. Every
// builder method returns a new Selection rather than mutating the
// receiver.
package selection

import (
	"math"

	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
)

// OpType names the six operations a Selection may describe.
type OpType int

const (
	OpGet OpType = iota
	OpEval
	OpSet
	OpUpsert
	OpRemove
	OpCreate
)

// SortTerm is one ORDER BY entry: an expression and ascending/descending
// direction.
type SortTerm struct {
	Expr sql.Expression
	Desc bool
}

// GetArgs is the argument payload of a `get` selection.
type GetArgs struct {
	Fields  []string // nil means the model's default projection
	Sort    []SortTerm
	Limit   int // 0 means unset; retrieval defaults it to DefaultLimit
	Offset  int
	Group   []string
	Having  filter.Query
}

// DefaultLimit is the sentinel the retrieval pass installs for an unset
// limit (conceptually infinity).
const DefaultLimit = math.MaxInt32

// EvalArgs is the argument payload of an `eval` selection: the single
// aggregated expression to compute.
type EvalArgs struct {
	Expr sql.Expression
}

// SetArgs is the argument payload of a `set` selection: a path -> update
// expression map.
type SetArgs struct {
	Updates map[string]sql.Expression
}

// UpsertArgs is the argument payload of an `upsert` selection.
type UpsertArgs struct {
	Rows []map[string]interface{}
	Keys []string
}

// CreateArgs is the argument payload of a `create` selection.
type CreateArgs struct {
	Row map[string]interface{}
}

// Selection is an immutable description of one database operation: a
// source (table name, nested Selection, or join map), a filter, an
// operation type and its arguments, plus the model/tables/driver binding
// installed by the retrieval pass.
type Selection struct {
	Ref   string
	Table interface{} // string | *Selection | map[string]*Selection
	Query filter.Query
	Type  OpType

	Get    GetArgs
	Eval   EvalArgs
	Set    SetArgs
	Upsert UpsertArgs
	Create CreateArgs

	Model  model.Model
	Tables map[string]model.Model

	// Driver is the bound driver, an opaque value until the driver
	// package's retrieval binds it; kept as interface{} here so this
	// package never depends on driver (driver depends on selection).
	Driver interface{}
}

// From starts a `get` Selection over a table name.
func From(ref, table string) Selection {
	return Selection{Ref: ref, Table: table, Type: OpGet, Get: GetArgs{Limit: DefaultLimit}}
}

// FromSelection starts a `get` Selection over a nested child selection
// (subquery-as-source).
func FromSelection(ref string, child Selection) Selection {
	return Selection{Ref: ref, Table: &child, Type: OpGet, Get: GetArgs{Limit: DefaultLimit}}
}

// Join starts a `get` Selection over a join map of alias -> Selection.
func Join(ref string, tables map[string]Selection) Selection {
	joined := make(map[string]*Selection, len(tables))
	for k, v := range tables {
		v := v
		joined[k] = &v
	}
	return Selection{Ref: ref, Table: joined, Type: OpGet, Get: GetArgs{Limit: DefaultLimit}}
}

// Where returns a copy of s with its filter Query replaced.
func (s Selection) Where(q filter.Query) Selection {
	s.Query = q
	return s
}

// Project returns a copy of s with its `get` projection set to fields.
func (s Selection) Project(fields ...string) Selection {
	s.Get.Fields = fields
	return s
}

// Sort returns a copy of s with one sort term appended.
func (s Selection) Sort(expr sql.Expression, desc bool) Selection {
	s.Get.Sort = append(append([]SortTerm{}, s.Get.Sort...), SortTerm{Expr: expr, Desc: desc})
	return s
}

// Limit returns a copy of s with its `get` limit set.
func (s Selection) Limit(n int) Selection {
	s.Get.Limit = n
	return s
}

// Offset returns a copy of s with its `get` offset set.
func (s Selection) Offset(n int) Selection {
	s.Get.Offset = n
	return s
}

// GroupBy returns a copy of s with its `get` group-by keys set.
func (s Selection) GroupBy(keys ...string) Selection {
	s.Get.Group = keys
	return s
}

// Having returns a copy of s with its post-group filter set.
func (s Selection) Having(q filter.Query) Selection {
	s.Get.Having = q
	return s
}

// AsEval returns a copy of s reinterpreted as an `eval` selection over
// expr (the aggregated scalar or array this selection yields).
func (s Selection) AsEval(expr sql.Expression) Selection {
	s.Type = OpEval
	s.Eval = EvalArgs{Expr: expr}
	return s
}

// AsSet returns a copy of s reinterpreted as a `set` selection applying
// updates.
func (s Selection) AsSet(updates map[string]sql.Expression) Selection {
	s.Type = OpSet
	s.Set = SetArgs{Updates: updates}
	return s
}

// AsUpsert returns a copy of s reinterpreted as an `upsert` selection
// inserting or updating rows, matched on keys.
func (s Selection) AsUpsert(rows []map[string]interface{}, keys []string) Selection {
	s.Type = OpUpsert
	s.Upsert = UpsertArgs{Rows: rows, Keys: keys}
	return s
}

// AsRemove returns a copy of s reinterpreted as a `remove` selection.
func (s Selection) AsRemove() Selection {
	s.Type = OpRemove
	return s
}

// AsCreate returns a copy of s reinterpreted as a `create` selection
// inserting row.
func (s Selection) AsCreate(row map[string]interface{}) Selection {
	s.Type = OpCreate
	s.Create = CreateArgs{Row: row}
	return s
}

// Joins reports whether s's table source is a join map.
func (s Selection) Joins() bool {
	_, ok := s.Table.(map[string]*Selection)
	return ok
}

// ChildSelection returns the nested Selection s is sourced from, if any.
func (s Selection) ChildSelection() (*Selection, bool) {
	c, ok := s.Table.(*Selection)
	return c, ok
}

// JoinTables returns s's join map, if Table is one.
func (s Selection) JoinTables() (map[string]*Selection, bool) {
	j, ok := s.Table.(map[string]*Selection)
	return j, ok
}

// TableName returns s's bare table name, if Table is one.
func (s Selection) TableName() (string, bool) {
	n, ok := s.Table.(string)
	return n, ok
}
