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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/sql"
)

func ctxWithRow(ref string, row sql.Row) *sql.EvalContext {
	return &sql.EvalContext{Context: context.Background(), Rows: map[string]sql.Row{ref: row}}
}

func TestRefEval(t *testing.T) {
	r := Ref("t", []string{"a", "b"})
	v, err := r.Eval(ctxWithRow("t", sql.Row{"a": map[string]interface{}{"b": 7}}))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestRefEvalMissingRef(t *testing.T) {
	r := Ref("other", []string{"a"})
	v, err := r.Eval(ctxWithRow("t", sql.Row{"a": 1}))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLiteralResolveType(t *testing.T) {
	l := Literal(3).(literal)
	typ, ok := LiteralType(l)
	require.True(t, ok)
	assert.Equal(t, sql.ShapeLeaf, typ.Shape())

	withKind := Literal("0a", sql.KindBinary).(literal)
	typ2, ok := LiteralType(withKind)
	require.True(t, ok)
	assert.Equal(t, sql.KindBinary, typ2.Kind())
}

func TestNewUnknownOperator(t *testing.T) {
	_, err := New("$bogus")
	require.Error(t, err)
}

func TestNewWrongArity(t *testing.T) {
	_, err := New("$eq", Literal(1))
	require.Error(t, err)
}

func TestOpEvalArithmetic(t *testing.T) {
	e, err := New("$add", Literal(1), Literal(2), Literal(3))
	require.NoError(t, err)
	v, err := e.Eval(&sql.EvalContext{Context: context.Background()})
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
}

func TestOpEvalDivideByZero(t *testing.T) {
	e, err := New("$divide", Literal(1), Literal(0))
	require.NoError(t, err)
	v, err := e.Eval(&sql.EvalContext{Context: context.Background()})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOpEvalComparison(t *testing.T) {
	tests := []struct {
		op   string
		a, b interface{}
		want bool
	}{
		{"$eq", 1, 1, true},
		{"$ne", 1, 2, true},
		{"$gt", 2, 1, true},
		{"$lt", 1, 2, true},
		{"$gte", 1, 1, true},
		{"$lte", 1, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			e, err := New(tt.op, Literal(tt.a), Literal(tt.b))
			require.NoError(t, err)
			v, err := e.Eval(&sql.EvalContext{Context: context.Background()})
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestOpEvalLogical(t *testing.T) {
	and, _ := New("$and", Literal(true), Literal(true))
	v, _ := and.Eval(&sql.EvalContext{Context: context.Background()})
	assert.Equal(t, true, v)

	or, _ := New("$or", Literal(false), Literal(true))
	v, _ = or.Eval(&sql.EvalContext{Context: context.Background()})
	assert.Equal(t, true, v)

	not, _ := New("$not", Literal(false))
	v, _ = not.Eval(&sql.EvalContext{Context: context.Background()})
	assert.Equal(t, true, v)

	xor, _ := New("$xor", Literal(true), Literal(true))
	v, _ = xor.Eval(&sql.EvalContext{Context: context.Background()})
	assert.Equal(t, false, v)
}

func TestOpEvalGet(t *testing.T) {
	e, err := New("$get", Literal(map[string]interface{}{"x": 5}), Literal("x"))
	require.NoError(t, err)
	v, err := e.Eval(&sql.EvalContext{Context: context.Background()})
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestWithChildrenRebuilds(t *testing.T) {
	e, err := New("$add", Literal(1), Literal(2))
	require.NoError(t, err)
	rebuilt, err := e.WithChildren([]sql.Expression{Literal(10), Literal(20)})
	require.NoError(t, err)
	v, err := rebuilt.Eval(&sql.EvalContext{Context: context.Background()})
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)
}
