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

// Package model defines Field and Model declarations and the registry
// that merges repeated declarations of the same model idempotently, plus
// the type-alias converter registry used to translate a declared field
// kind to and from a backing representation (e.g. binary <-> hex string).
package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/types"
)

// Field describes one column of a Model.
type Field struct {
	Name       string
	Kind       sql.FieldKind
	Length     int
	Precision  int
	Scale      int
	Nullable   bool
	Initial    interface{}
	Legacy     []string
	Deprecated bool
	Expr       sql.Expression
}

// IsVirtual reports whether f is a computed field never persisted to
// storage.
func (f Field) IsVirtual() bool { return f.Expr != nil }

// FieldOption customizes a Field built by NewField.
type FieldOption func(*Field)

// WithLength sets a char/string field's declared length.
func WithLength(n int) FieldOption { return func(f *Field) { f.Length = n } }

// WithPrecision sets a decimal field's precision and scale.
func WithPrecision(precision, scale int) FieldOption {
	return func(f *Field) { f.Precision = precision; f.Scale = scale }
}

// NotNull marks a field non-nullable, overriding NewField's default.
func NotNull() FieldOption { return func(f *Field) { f.Nullable = false } }

// WithInitial sets a field's default value.
func WithInitial(v interface{}) FieldOption { return func(f *Field) { f.Initial = v } }

// WithLegacy records older column names a renamed field migrates from.
func WithLegacy(names ...string) FieldOption { return func(f *Field) { f.Legacy = names } }

// Deprecate hides a field from the default projection while keeping it
// mapped for legacy rows.
func Deprecate() FieldOption { return func(f *Field) { f.Deprecated = true } }

// Virtual marks a field as computed: its value is e, evaluated at read
// time, and it carries no storage attributes.
func Virtual(e sql.Expression) FieldOption { return func(f *Field) { f.Expr = e } }

// NewField builds a Field declaration. Fields are nullable by default
// per §3.3; pass NotNull to override.
func NewField(name string, kind sql.FieldKind, opts ...FieldOption) Field {
	f := Field{Name: name, Kind: kind, Nullable: true}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Model describes one table/collection: its fields, primary key,
// optional auto-increment, uniqueness constraints and foreign keys.
type Model struct {
	Name    string
	Fields  map[string]Field
	Primary []string
	AutoInc bool
	Unique  [][]string
	Foreign map[string]ForeignKey
}

// ForeignKey names the table and key a local key references.
type ForeignKey struct {
	Table string
	Key   string
}

// GetType resolves the Type of a dotted field path against m, honoring
// virtual fields (whose type is their expression's) and returning nil for
// an unknown path.
func (m Model) GetType(path []string) sql.Type {
	if len(path) == 0 {
		return nil
	}
	f, ok := m.Fields[path[0]]
	if !ok {
		return nil
	}
	if f.IsVirtual() {
		return f.Expr.Type()
	}
	base := types.FromField(f.Kind)
	if len(path) == 1 {
		return base
	}
	// A dotted path descending into a json/list-encoded field has no
	// statically declared inner shape; the retrieval pass resolves the
	// remainder of the path to Expr and lets the driver's JSON-path
	// lowering sort it out at execution time.
	if f.Kind == sql.KindJSON || f.Kind == sql.KindList {
		return types.Expr
	}
	return nil
}

// Validate checks the invariants a Model must satisfy: autoInc implies a
// single numeric/identity primary key; a composite primary forbids
// autoInc; every key referenced by Primary/Unique/Foreign must be a
// declared field.
func (m Model) Validate() error {
	for _, k := range m.Primary {
		if _, ok := m.Fields[k]; !ok {
			return kerr.ModelMismatch.New(fmt.Sprintf("%s: primary key %q is not a declared field", m.Name, k))
		}
	}
	if m.AutoInc {
		if len(m.Primary) != 1 {
			return kerr.ModelMismatch.New(fmt.Sprintf("%s: autoInc requires a single-column primary key", m.Name))
		}
		f := m.Fields[m.Primary[0]]
		if !f.Kind.IsNumeric() && f.Kind != sql.KindPrimary {
			return kerr.ModelMismatch.New(fmt.Sprintf("%s: autoInc primary key %q must be numeric or primary kind", m.Name, m.Primary[0]))
		}
	}
	for _, set := range m.Unique {
		for _, k := range set {
			if _, ok := m.Fields[k]; !ok {
				return kerr.ModelMismatch.New(fmt.Sprintf("%s: unique key %q is not a declared field", m.Name, k))
			}
		}
	}
	for local, fk := range m.Foreign {
		if _, ok := m.Fields[local]; !ok {
			return kerr.ModelMismatch.New(fmt.Sprintf("%s: foreign key %q is not a declared field", m.Name, local))
		}
		_ = fk
	}
	return nil
}

// DefaultProjection returns the field names projected by a bare `get`
// with no explicit fields: every non-deprecated, non-virtual field, in a
// stable (sorted) order.
func (m Model) DefaultProjection() []string {
	names := make([]string, 0, len(m.Fields))
	for name, f := range m.Fields {
		if f.Deprecated || f.IsVirtual() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Converter is a user type-alias: a (load, dump) pair translating between
// a declared field kind and its backing representation.
type Converter struct {
	Load func(stored interface{}) (interface{}, error)
	Dump func(value interface{}) (interface{}, error)
}

// Registry holds every declared Model plus every registered type-alias
// Converter, merged idempotently across repeated declarations.
type Registry struct {
	mu         sync.RWMutex
	models     map[string]Model
	converters map[sql.FieldKind]Converter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models:     map[string]Model{},
		converters: map[sql.FieldKind]Converter{},
	}
}

// Extend declares or merges fields/config into the named model. A field
// whose name already exists keeps its existing Kind unless the new
// declaration marks it `legacy` of a renamed key (i.e. the incoming field
// under a new name lists the old name in Legacy, in which case the old
// column is treated as renamed rather than redeclared with a conflicting
// kind).
func (r *Registry) Extend(name string, fields []Field, primary []string, autoInc bool, unique [][]string, foreign map[string]ForeignKey) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		m = Model{Name: name, Fields: map[string]Field{}, Foreign: map[string]ForeignKey{}}
	}

	for _, f := range fields {
		renames := false
		for _, legacyName := range f.Legacy {
			if _, existed := m.Fields[legacyName]; existed {
				delete(m.Fields, legacyName)
				renames = true
			}
		}
		if existing, has := m.Fields[f.Name]; has && !renames {
			// Idempotent merge: keep the existing kind, allow only
			// deprecation/legacy-list widening.
			existing.Deprecated = existing.Deprecated || f.Deprecated
			existing.Legacy = mergeLegacy(existing.Legacy, f.Legacy)
			m.Fields[f.Name] = existing
			continue
		}
		m.Fields[f.Name] = f
	}

	if len(primary) > 0 {
		m.Primary = primary
	}
	if autoInc {
		m.AutoInc = true
	}
	if len(unique) > 0 {
		m.Unique = append(m.Unique, unique...)
	}
	for k, v := range foreign {
		m.Foreign[k] = v
	}

	if err := m.Validate(); err != nil {
		return Model{}, err
	}

	r.models[name] = m
	return m, nil
}

func mergeLegacy(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Get returns the currently merged Model named name.
func (r *Registry) Get(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Drop removes a model declaration entirely.
func (r *Registry) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, name)
}

// Define registers a Converter for kind, overwriting any prior
// registration for the same kind.
func (r *Registry) Define(kind sql.FieldKind, conv Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[kind] = conv
}

// Converter returns the registered Converter for kind, if any.
func (r *Registry) Converter(kind sql.FieldKind) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[kind]
	return c, ok
}

// NextAutoInc computes the next value for an auto-incrementing primary
// key: 1 if existingMax is nil (no rows yet), otherwise existingMax+1.
func NextAutoInc(existingMax *int64) int64 {
	if existingMax == nil {
		return 1
	}
	return *existingMax + 1
}
