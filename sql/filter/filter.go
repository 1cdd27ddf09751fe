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

// Package filter provides the Query predicate tree: per-field matchers
// (eq, ne, lt, ...), logical and/or/not composition, and $expr for an
// arbitrary boolean expression embedded in a filter. Predicates are
// evaluated directly by the in-memory executor and lowered per-dialect by
// the SQL compilers.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarkdb/quark/sql"
)

// MatcherKind names the per-field comparison a FieldMatcher performs.
type MatcherKind string

const (
	Eq           MatcherKind = "eq"
	Ne           MatcherKind = "ne"
	Lt           MatcherKind = "lt"
	Lte          MatcherKind = "lte"
	Gt           MatcherKind = "gt"
	Gte          MatcherKind = "gte"
	In           MatcherKind = "in"
	Nin          MatcherKind = "nin"
	Exists       MatcherKind = "exists"
	Regex        MatcherKind = "regex"
	RegexFor     MatcherKind = "regexFor"
	El           MatcherKind = "el"
	Size         MatcherKind = "size"
	BitsAllSet   MatcherKind = "bitsAllSet"
	BitsAllClear MatcherKind = "bitsAllClear"
	BitsAnySet   MatcherKind = "bitsAnySet"
	BitsAnyClear MatcherKind = "bitsAnyClear"
)

// FieldMatcher is a single comparison over the field at Path within a row.
type FieldMatcher struct {
	Path  []string
	Kind  MatcherKind
	Value interface{}
	// Sub is populated for the `el` matcher: a nested Query applied to
	// each element of an array field.
	Sub *Query
}

// Query is a filter predicate: a conjunction of per-field matchers plus
// logical $and/$or/$not over sub-queries and $expr over an arbitrary
// boolean expression.
type Query struct {
	Matchers []FieldMatcher
	And      []Query
	Or       []Query
	Not      *Query
	Expr     sql.Expression
}

// IsEmpty reports whether q carries no constraints at all (matches every
// row). The zero Query is empty; a non-nil but empty Or is not, since it
// matches nothing.
func (q Query) IsEmpty() bool {
	return len(q.Matchers) == 0 && len(q.And) == 0 && q.Or == nil && q.Not == nil && q.Expr == nil
}

// Eval folds q against row, bound under tableRef within ctx (so that $expr
// and `el` sub-queries can resolve field references and nested
// expressions).
func Eval(ctx *sql.EvalContext, q Query, row sql.Row, tableRef string) (bool, error) {
	for _, m := range q.Matchers {
		ok, err := evalMatcher(ctx, m, row, tableRef)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	// Empty $or matches nothing; a non-empty one is satisfied by any
	// branch.
	if q.Or != nil {
		if len(q.Or) == 0 {
			return false, nil
		}
		matched := false
		for _, sub := range q.Or {
			ok, err := Eval(ctx, sub, row, tableRef)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	// Empty $and matches everything; otherwise every branch must hold.
	for _, sub := range q.And {
		ok, err := Eval(ctx, sub, row, tableRef)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if q.Not != nil {
		ok, err := Eval(ctx, *q.Not, row, tableRef)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}

	if q.Expr != nil {
		rowCtx := ctx.WithRow(tableRef, row)
		v, err := q.Expr.Eval(rowCtx)
		if err != nil {
			return false, err
		}
		if b, ok := v.(bool); ok && !b {
			return false, nil
		}
		if v == nil {
			return false, nil
		}
	}

	return true, nil
}

func evalMatcher(ctx *sql.EvalContext, m FieldMatcher, row sql.Row, tableRef string) (bool, error) {
	v, present := sql.Get(row, m.Path)

	switch m.Kind {
	case Exists:
		want, _ := m.Value.(bool)
		return present == want, nil
	case Eq:
		return present && compare(v, m.Value) == 0, nil
	case Ne:
		return !present || compare(v, m.Value) != 0, nil
	case Lt:
		return present && compare(v, m.Value) < 0, nil
	case Lte:
		return present && compare(v, m.Value) <= 0, nil
	case Gt:
		return present && compare(v, m.Value) > 0, nil
	case Gte:
		return present && compare(v, m.Value) >= 0, nil
	case In:
		return present && containsAny(m.Value, v), nil
	case Nin:
		return !present || !containsAny(m.Value, v), nil
	case Regex, RegexFor:
		if !present {
			return false, nil
		}
		pattern, _ := m.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(fmt.Sprintf("%v", v)), nil
	case Size:
		arr, ok := v.([]interface{})
		if !ok {
			return false, nil
		}
		want, _ := m.Value.(int)
		return len(arr) == want, nil
	case El:
		arr, ok := v.([]interface{})
		if !ok || m.Sub == nil {
			return false, nil
		}
		for _, item := range arr {
			row, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ok2, err := Eval(ctx, *m.Sub, row, tableRef)
			if err != nil {
				return false, err
			}
			if ok2 {
				return true, nil
			}
		}
		return false, nil
	case BitsAllSet, BitsAllClear, BitsAnySet, BitsAnyClear:
		return evalBits(m, v, present)
	default:
		return false, fmt.Errorf("unknown matcher kind %q", m.Kind)
	}
}

func evalBits(m FieldMatcher, v interface{}, present bool) (bool, error) {
	if !present {
		return false, nil
	}
	val, ok := asInt(v)
	if !ok {
		return false, nil
	}
	mask, ok := asInt(m.Value)
	if !ok {
		return false, nil
	}
	switch m.Kind {
	case BitsAllSet:
		return val&mask == mask, nil
	case BitsAllClear:
		return val&mask == 0, nil
	case BitsAnySet:
		return val&mask != 0, nil
	case BitsAnyClear:
		return val&mask != mask, nil
	default:
		return false, nil
	}
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// asWholeInt returns v as an int64 and true only when v's Go type is
// already integral (unlike asInt, it never truncates a float to get
// there), so it is safe to use as a fast-path before falling back to
// float comparison.
func asWholeInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// compare orders a and b numerically when both are numbers, falling back to
// string comparison otherwise. Whole-integer operands take a fast path
// through asWholeInt so values outside float64's exact range still compare
// correctly; if either side is a float, comparison goes through asFloat
// instead, so values with a fractional part (1.2 vs 1.9) compare by their
// actual magnitude rather than truncating to equal integers.
func compare(a, b interface{}) int {
	if ai, aok := asWholeInt(a); aok {
		if bi, bok := asWholeInt(b); bok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			default:
				return 0
			}
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	return strings.Compare(as, bs)
}

func containsAny(haystack interface{}, needle interface{}) bool {
	arr, ok := haystack.([]interface{})
	if !ok {
		return false
	}
	for _, v := range arr {
		if compare(v, needle) == 0 {
			return true
		}
	}
	return false
}
