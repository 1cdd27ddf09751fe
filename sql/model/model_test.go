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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/sql"
)

func TestNewFieldDefaultsNullable(t *testing.T) {
	f := NewField("name", sql.KindString)
	assert.True(t, f.Nullable)

	nn := NewField("id", sql.KindInteger, NotNull())
	assert.False(t, nn.Nullable)
}

func TestFieldOptions(t *testing.T) {
	f := NewField("amount", sql.KindDecimal, WithPrecision(10, 2), WithInitial(0), WithLegacy("amt"), Deprecate())
	assert.Equal(t, 10, f.Precision)
	assert.Equal(t, 2, f.Scale)
	assert.Equal(t, 0, f.Initial)
	assert.Equal(t, []string{"amt"}, f.Legacy)
	assert.True(t, f.Deprecated)
	assert.False(t, f.IsVirtual())
}

func TestRegistryExtendIdempotent(t *testing.T) {
	r := NewRegistry()
	fields := []Field{
		NewField("id", sql.KindInteger),
		NewField("name", sql.KindString),
	}
	m1, err := r.Extend("users", fields, []string{"id"}, true, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, m1.Primary)
	assert.True(t, m1.AutoInc)

	// Re-declaring the same fields must not change their kind or drop
	// config already recorded.
	m2, err := r.Extend("users", fields, nil, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, m2.Primary)
	assert.True(t, m2.AutoInc)
	assert.Len(t, m2.Fields, 2)
}

func TestRegistryExtendRenameViaLegacy(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extend("users", []Field{NewField("nm", sql.KindString)}, nil, false, nil, nil)
	require.NoError(t, err)

	m, err := r.Extend("users", []Field{NewField("name", sql.KindString, WithLegacy("nm"))}, nil, false, nil, nil)
	require.NoError(t, err)
	_, hasOld := m.Fields["nm"]
	_, hasNew := m.Fields["name"]
	assert.False(t, hasOld)
	assert.True(t, hasNew)
}

func TestValidateAutoIncRequiresSinglePrimary(t *testing.T) {
	m := Model{
		Name: "t",
		Fields: map[string]Field{
			"a": NewField("a", sql.KindInteger),
			"b": NewField("b", sql.KindInteger),
		},
		Primary: []string{"a", "b"},
		AutoInc: true,
	}
	err := m.Validate()
	require.Error(t, err)
}

func TestValidateUnknownPrimaryField(t *testing.T) {
	m := Model{
		Name:    "t",
		Fields:  map[string]Field{"a": NewField("a", sql.KindInteger)},
		Primary: []string{"missing"},
	}
	require.Error(t, m.Validate())
}

func TestGetTypeVirtualField(t *testing.T) {
	lit := fakeExpr{typ: nil}
	m := Model{Fields: map[string]Field{
		"total": NewField("total", sql.KindExpr, Virtual(lit)),
	}}
	assert.Nil(t, m.GetType([]string{"total"}))
}

func TestGetTypeScalarAndNested(t *testing.T) {
	m := Model{Fields: map[string]Field{
		"name": NewField("name", sql.KindString),
		"meta": NewField("meta", sql.KindJSON),
	}}
	assert.NotNil(t, m.GetType([]string{"name"}))
	assert.Nil(t, m.GetType([]string{"unknown"}))
	assert.NotNil(t, m.GetType([]string{"meta", "nested", "path"}))
	assert.Nil(t, m.GetType([]string{"name", "cant-descend"}))
}

func TestDefaultProjectionSkipsDeprecatedAndVirtual(t *testing.T) {
	m := Model{Fields: map[string]Field{
		"a": NewField("a", sql.KindString),
		"b": NewField("b", sql.KindString, Deprecate()),
		"c": NewField("c", sql.KindExpr, Virtual(fakeExpr{})),
	}}
	assert.Equal(t, []string{"a"}, m.DefaultProjection())
}

func TestNextAutoInc(t *testing.T) {
	assert.Equal(t, int64(1), NextAutoInc(nil))
	var existing int64 = 41
	assert.Equal(t, int64(42), NextAutoInc(&existing))
}

// fakeExpr is a minimal sql.Expression stub for exercising Field.Expr
// wiring without depending on the sql/expr package (which itself depends
// on this one's sibling, sql/types, not on model).
type fakeExpr struct{ typ sql.Type }

func (e fakeExpr) Op() string                                        { return "$literal" }
func (e fakeExpr) Children() []sql.Expression                        { return nil }
func (e fakeExpr) WithChildren([]sql.Expression) (sql.Expression, error) { return e, nil }
func (e fakeExpr) Type() sql.Type                                    { return e.typ }
func (e fakeExpr) WithType(t sql.Type) sql.Expression                { e.typ = t; return e }
func (e fakeExpr) Eval(ctx *sql.EvalContext) (interface{}, error)    { return nil, nil }
func (e fakeExpr) String() string                                    { return "$literal" }
