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

package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/sql"
)

func evalCtx() *sql.EvalContext {
	return &sql.EvalContext{Context: context.Background()}
}

func TestEvalEmptyQueryMatchesEverything(t *testing.T) {
	ok, err := Eval(evalCtx(), Query{}, sql.Row{"a": 1}, "t")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalEmptyOrMatchesNothing(t *testing.T) {
	q := Query{Or: []Query{}}
	ok, err := Eval(evalCtx(), q, sql.Row{"a": 1}, "t")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalEmptyAndMatchesEverything(t *testing.T) {
	q := Query{And: []Query{}}
	ok, err := Eval(evalCtx(), q, sql.Row{"a": 1}, "t")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalMatchersConjoin(t *testing.T) {
	q := Query{Matchers: []FieldMatcher{
		{Path: []string{"a"}, Kind: Eq, Value: 1},
		{Path: []string{"b"}, Kind: Eq, Value: 2},
	}}
	ok, err := Eval(evalCtx(), q, sql.Row{"a": 1, "b": 2}, "t")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Eval(evalCtx(), q, sql.Row{"a": 1, "b": 3}, "t")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalOrBranches(t *testing.T) {
	q := Query{Or: []Query{
		{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Eq, Value: 1}}},
		{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Eq, Value: 2}}},
	}}
	ok, _ := Eval(evalCtx(), q, sql.Row{"a": 2}, "t")
	require.True(t, ok)
	ok, _ = Eval(evalCtx(), q, sql.Row{"a": 3}, "t")
	require.False(t, ok)
}

func TestEvalNot(t *testing.T) {
	inner := Query{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Eq, Value: 1}}}
	q := Query{Not: &inner}
	ok, _ := Eval(evalCtx(), q, sql.Row{"a": 1}, "t")
	require.False(t, ok)
	ok, _ = Eval(evalCtx(), q, sql.Row{"a": 2}, "t")
	require.True(t, ok)
}

func TestEvalExists(t *testing.T) {
	q := Query{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Exists, Value: true}}}
	ok, _ := Eval(evalCtx(), q, sql.Row{"a": 1}, "t")
	require.True(t, ok)
	ok, _ = Eval(evalCtx(), q, sql.Row{"b": 1}, "t")
	require.False(t, ok)
}

func TestEvalInNin(t *testing.T) {
	inQ := Query{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: In, Value: []interface{}{1, 2, 3}}}}
	ok, _ := Eval(evalCtx(), inQ, sql.Row{"a": 2}, "t")
	require.True(t, ok)

	ninQ := Query{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Nin, Value: []interface{}{1, 2, 3}}}}
	ok, _ = Eval(evalCtx(), ninQ, sql.Row{"a": 9}, "t")
	require.True(t, ok)
}

func TestEvalSize(t *testing.T) {
	q := Query{Matchers: []FieldMatcher{{Path: []string{"tags"}, Kind: Size, Value: 2}}}
	ok, _ := Eval(evalCtx(), q, sql.Row{"tags": []interface{}{"a", "b"}}, "t")
	require.True(t, ok)
	ok, _ = Eval(evalCtx(), q, sql.Row{"tags": []interface{}{"a"}}, "t")
	require.False(t, ok)
}

func TestEvalElMatchesSubQueryAgainstAnyElement(t *testing.T) {
	sub := Query{Matchers: []FieldMatcher{{Path: []string{"x"}, Kind: Gt, Value: 5}}}
	q := Query{Matchers: []FieldMatcher{{Path: []string{"items"}, Kind: El, Sub: &sub}}}
	row := sql.Row{"items": []interface{}{
		map[string]interface{}{"x": 1},
		map[string]interface{}{"x": 9},
	}}
	ok, err := Eval(evalCtx(), q, row, "t")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalGtDistinguishesFractionalValues(t *testing.T) {
	q := Query{Matchers: []FieldMatcher{{Path: []string{"score"}, Kind: Gt, Value: 1.2}}}
	ok, err := Eval(evalCtx(), q, sql.Row{"score": 1.9}, "t")
	require.NoError(t, err)
	require.True(t, ok, "1.9 > 1.2 must hold instead of truncating both to 1")

	ok, err = Eval(evalCtx(), q, sql.Row{"score": 1.2}, "t")
	require.NoError(t, err)
	require.False(t, ok, "1.2 is not > 1.2")
}

func TestEvalBits(t *testing.T) {
	q := Query{Matchers: []FieldMatcher{{Path: []string{"flags"}, Kind: BitsAllSet, Value: 0b011}}}
	ok, _ := Eval(evalCtx(), q, sql.Row{"flags": 0b111}, "t")
	require.True(t, ok)
	ok, _ = Eval(evalCtx(), q, sql.Row{"flags": 0b100}, "t")
	require.False(t, ok)
}

func TestIsEmpty(t *testing.T) {
	require.True(t, Query{}.IsEmpty())
	require.False(t, Query{Matchers: []FieldMatcher{{Path: []string{"a"}, Kind: Eq, Value: 1}}}.IsEmpty())
}
