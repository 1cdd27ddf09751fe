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

// FieldKind enumerates the leaf field kinds a Model's fields may declare.
// It is also used by a Leaf-shaped Type to say which kind it carries.
type FieldKind int

const (
	// KindInvalid is the zero value; no Type should ever report it.
	KindInvalid FieldKind = iota

	// Numeric kinds.
	KindInteger
	KindUnsigned
	KindBigint
	KindFloat
	KindDouble
	KindDecimal

	// String-like kinds.
	KindChar
	KindString
	KindText

	// Boolean.
	KindBoolean

	// Temporal kinds.
	KindDate
	KindTime
	KindTimestamp

	// Binary.
	KindBinary

	// Collection encodings.
	KindList
	KindJSON

	// Identity.
	KindPrimary

	// KindExpr marks an unresolved type, the identity element of
	// type-join. Only ever appears wrapped in a Shape-Expr Type, never as
	// a Leaf kind; kept here so callers can still switch over FieldKind
	// uniformly when inspecting a declared Field's Kind.
	KindExpr
)

func (k FieldKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindUnsigned:
		return "unsigned"
	case KindBigint:
		return "bigint"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindTimestamp:
		return "timestamp"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindJSON:
		return "json"
	case KindPrimary:
		return "primary"
	case KindExpr:
		return "expr"
	default:
		return "invalid"
	}
}

// IsNumeric reports whether k is one of the numeric leaf kinds; used by
// the model registry to validate that an auto-incrementing field has a
// numeric kind.
func (k FieldKind) IsNumeric() bool {
	switch k {
	case KindInteger, KindUnsigned, KindBigint, KindFloat, KindDouble, KindDecimal:
		return true
	default:
		return false
	}
}

// Shape is the tag of the Type sum type: Leaf, Array, Object, or Expr.
type Shape int

const (
	ShapeLeaf Shape = iota
	ShapeArray
	ShapeObject
	ShapeExpr
)

func (s Shape) String() string {
	switch s {
	case ShapeLeaf:
		return "leaf"
	case ShapeArray:
		return "array"
	case ShapeObject:
		return "object"
	case ShapeExpr:
		return "expr"
	default:
		return "unknown-shape"
	}
}

// Type is a structural type: a tagged variant over Leaf(kind),
// Array(inner), Object(fields) and Expr, carrying an ignoreNull flag
// propagated by aggregate operators.
//
// Concrete implementations live in sql/types; this package only declares
// the contract so that sql/expr, sql/model, sql/selection and sql/retrieve
// can all speak of "a Type" without depending on each other.
type Type interface {
	// Shape returns which variant of the sum type this Type is.
	Shape() Shape

	// Kind returns the leaf field kind. Only meaningful when Shape() ==
	// ShapeLeaf; returns KindInvalid otherwise.
	Kind() FieldKind

	// Inner returns the element type of an Array-shaped Type, or nil
	// otherwise.
	Inner() Type

	// Fields returns the field map of an Object-shaped Type, or nil
	// otherwise. The returned map must not be mutated.
	Fields() map[string]Type

	// IgnoreNull reports whether this Type was produced under a
	// "skip nulls" aggregate context (e.g. $avg/$min/$max operate over
	// non-null inputs only).
	IgnoreNull() bool

	// WithIgnoreNull returns a copy of this Type with IgnoreNull set to
	// v, leaving the receiver unchanged.
	WithIgnoreNull(v bool) Type

	// String renders the type for diagnostics/tests.
	String() string

	// Equal reports structural equality, ignoring the IgnoreNull flag
	// (which is metadata about provenance, not about the shape of
	// values the type describes).
	Equal(other Type) bool
}
