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

// Package types provides the concrete Type implementations (Leaf, Array,
// Object, Expr) behind the sql.Type contract, plus the type-inference
// algebra (FromField, FromTerm, Join, Inner) used by the retrieval pass
// and the expression operator table to resolve result types.
package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarkdb/quark/sql"
)

type leafType struct {
	kind       sql.FieldKind
	ignoreNull bool
}

func (t leafType) Shape() sql.Shape            { return sql.ShapeLeaf }
func (t leafType) Kind() sql.FieldKind         { return t.kind }
func (t leafType) Inner() sql.Type             { return nil }
func (t leafType) Fields() map[string]sql.Type { return nil }
func (t leafType) IgnoreNull() bool            { return t.ignoreNull }
func (t leafType) WithIgnoreNull(v bool) sql.Type {
	t.ignoreNull = v
	return t
}
func (t leafType) String() string { return t.kind.String() }
func (t leafType) Equal(other sql.Type) bool {
	return other != nil && other.Shape() == sql.ShapeLeaf && other.Kind() == t.kind
}

type arrayType struct {
	inner      sql.Type
	ignoreNull bool
}

func (t arrayType) Shape() sql.Shape            { return sql.ShapeArray }
func (t arrayType) Kind() sql.FieldKind         { return sql.KindInvalid }
func (t arrayType) Inner() sql.Type             { return t.inner }
func (t arrayType) Fields() map[string]sql.Type { return nil }
func (t arrayType) IgnoreNull() bool            { return t.ignoreNull }
func (t arrayType) WithIgnoreNull(v bool) sql.Type {
	t.ignoreNull = v
	return t
}
func (t arrayType) String() string { return fmt.Sprintf("array(%s)", t.inner) }
func (t arrayType) Equal(other sql.Type) bool {
	return other != nil && other.Shape() == sql.ShapeArray && t.inner.Equal(other.Inner())
}

type objectType struct {
	fields     map[string]sql.Type
	ignoreNull bool
}

func (t objectType) Shape() sql.Shape    { return sql.ShapeObject }
func (t objectType) Kind() sql.FieldKind { return sql.KindInvalid }
func (t objectType) Inner() sql.Type     { return nil }
func (t objectType) Fields() map[string]sql.Type {
	return t.fields
}
func (t objectType) IgnoreNull() bool { return t.ignoreNull }
func (t objectType) WithIgnoreNull(v bool) sql.Type {
	t.ignoreNull = v
	return t
}
func (t objectType) String() string {
	keys := make([]string, 0, len(t.fields))
	for k := range t.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, t.fields[k])
	}
	return fmt.Sprintf("object{%s}", strings.Join(parts, ", "))
}
func (t objectType) Equal(other sql.Type) bool {
	if other == nil || other.Shape() != sql.ShapeObject {
		return false
	}
	of := other.Fields()
	if len(of) != len(t.fields) {
		return false
	}
	for k, v := range t.fields {
		ov, ok := of[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

type exprType struct {
	ignoreNull bool
}

func (t exprType) Shape() sql.Shape            { return sql.ShapeExpr }
func (t exprType) Kind() sql.FieldKind         { return sql.KindInvalid }
func (t exprType) Inner() sql.Type             { return nil }
func (t exprType) Fields() map[string]sql.Type { return nil }
func (t exprType) IgnoreNull() bool            { return t.ignoreNull }
func (t exprType) WithIgnoreNull(v bool) sql.Type {
	t.ignoreNull = v
	return t
}
func (t exprType) String() string { return "expr" }
func (t exprType) Equal(other sql.Type) bool {
	return other != nil && other.Shape() == sql.ShapeExpr
}

// Expr is the identity element of type-join: meeting any T yields T.
var Expr sql.Type = exprType{}

// Number, String and Boolean are the well-known leaf types the arithmetic,
// string and comparison operators reduce to.
var (
	Number  sql.Type = leafType{kind: sql.KindDouble}
	String  sql.Type = leafType{kind: sql.KindText}
	Boolean sql.Type = leafType{kind: sql.KindBoolean}
)

// NewLeaf builds a Leaf(kind) Type.
func NewLeaf(kind sql.FieldKind) sql.Type {
	return leafType{kind: kind}
}

// NewArray builds an Array(inner) Type.
func NewArray(inner sql.Type) sql.Type {
	return arrayType{inner: inner}
}

// NewObject builds an Object(fields) Type. Field ordering is irrelevant;
// the map is copied defensively.
func NewObject(fields map[string]sql.Type) sql.Type {
	cp := make(map[string]sql.Type, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return objectType{fields: cp}
}

// FromField maps a declared field kind to its Type.
func FromField(kind sql.FieldKind) sql.Type {
	if kind == sql.KindExpr {
		return Expr
	}
	return NewLeaf(kind)
}

// FromTerm infers the Type of a bare Go literal value, used when a
// $literal expression omits its explicit kind hint: explicit kind if
// given, else the type of the value itself.
func FromTerm(value interface{}) sql.Type {
	switch v := value.(type) {
	case nil:
		return Expr
	case bool:
		return Boolean
	case string:
		return String
	case []byte:
		return NewLeaf(sql.KindBinary)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return Number
	case []interface{}:
		if len(v) == 0 {
			return NewArray(Expr)
		}
		return NewArray(FromTerm(v[0]))
	case map[string]interface{}:
		fields := make(map[string]sql.Type, len(v))
		for k, fv := range v {
			fields[k] = FromTerm(fv)
		}
		return NewObject(fields)
	default:
		return Expr
	}
}

// Join returns the common supertype of ts: if all are Expr, returns def
// (or Expr when def is nil). Used by $and/$or/$xor and branching
// operators like $if/$ifNull.
func Join(ts []sql.Type, def sql.Type) sql.Type {
	var result sql.Type
	ignoreNull := false
	for _, t := range ts {
		if t == nil {
			continue
		}
		if t.IgnoreNull() {
			ignoreNull = true
		}
		if t.Shape() == sql.ShapeExpr {
			continue
		}
		if result == nil {
			result = t
			continue
		}
		if !result.Equal(t) {
			// Disagreeing concrete types join down to Expr; callers
			// that need a specific type (e.g. $if) instead pass a
			// concrete def and rely on both branches already having
			// agreed, or accept Expr.
			result = Expr
		}
	}
	if result == nil {
		if def != nil {
			result = def
		} else {
			result = Expr
		}
	}
	if ignoreNull {
		result = result.WithIgnoreNull(true)
	}
	return result
}

// Inner returns the type reachable by descending one level into t: the
// element type of an Array, the type of Fields()[key] of an Object, or nil
// if t does not support that descent.
func Inner(t sql.Type, key string) sql.Type {
	if t == nil {
		return nil
	}
	switch t.Shape() {
	case sql.ShapeArray:
		return t.Inner()
	case sql.ShapeObject:
		if f, ok := t.Fields()[key]; ok {
			return f
		}
		return nil
	default:
		return nil
	}
}
