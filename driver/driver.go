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

// Package driver declares the storage-backend contract every backend
// (the in-memory reference executor, each SQL dialect, the Mongo
// document store) implements, plus a name-keyed registry used to resolve
// a driver at retrieval time.
package driver

import (
	"context"
	"sync"

	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/selection"
)

// SetResult is returned by Set: the number of rows the filter matched,
// and, when the backend can report it cheaply, how many were actually
// changed.
type SetResult struct {
	Matched  int64
	Modified *int64
}

// RemoveResult is returned by Remove.
type RemoveResult struct {
	Removed int64
}

// UpsertResult is returned by Upsert.
type UpsertResult struct {
	Inserted int64
	Matched  int64
	Modified *int64
}

// Stats reports backend-wide and per-table row counts.
type Stats struct {
	Tables map[string]int64
}

// Driver is the storage-backend contract. Every method takes the
// context.Context-carrying EvalContext so long-running operations can be
// cancelled, and every Selection argument has already passed the
// retrieval/type-resolution pass.
type Driver interface {
	// Start brings the backend up (connecting, opening files); Stop
	// tears it down and must be idempotent on repeated calls.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Prepare ensures the backend's storage matches model, performing
	// any legacy-column migration implied by its Field.Legacy lists.
	Prepare(ctx context.Context, table string) error

	Get(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error)
	Eval(ctx *sql.EvalContext, sel *selection.Selection) (interface{}, error)
	Set(ctx *sql.EvalContext, sel *selection.Selection) (SetResult, error)
	Remove(ctx *sql.EvalContext, sel *selection.Selection) (RemoveResult, error)
	Create(ctx *sql.EvalContext, sel *selection.Selection) (sql.Row, error)
	Upsert(ctx *sql.EvalContext, sel *selection.Selection) (UpsertResult, error)

	// WithTransaction runs fn against a new session bound to this
	// driver, committing if fn returns nil and rolling back otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	Drop(ctx context.Context, table string) error
	DropAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)

	CreateIndex(ctx context.Context, table string, fields []string, unique bool) error
	DropIndex(ctx context.Context, table, name string) error
	GetIndexes(ctx context.Context, table string) ([]string, error)
}

// Registry resolves a named Driver, used by the retrieval pass to bind
// every Selection it touches to the driver declared for its table.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	byModel map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Driver{}, byModel: map[string]string{}}
}

// Register names a Driver, making it resolvable by name and installing
// it as the default driver for the given table names.
func (r *Registry) Register(name string, d Driver, tables ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = d
	for _, t := range tables {
		r.byModel[t] = name
	}
}

// Get resolves the named Driver.
func (r *Registry) Get(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

// All returns every registered Driver keyed by name, used by facade-level
// lifecycle operations (stopping/dropping/gathering stats on the whole
// fleet) that must not hardwire a single driver name.
func (r *Registry) All() map[string]Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Driver, len(r.drivers))
	for name, d := range r.drivers {
		out[name] = d
	}
	return out
}

// DriverForTable resolves the Driver bound to a table name, used by the
// retrieval pass when a Selection names a bare table with no explicit
// driver.
func (r *Registry) DriverForTable(table string) (Driver, bool) {
	r.mu.RLock()
	name, ok := r.byModel[table]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Get(name)
}

// SessionManager hands out monotonically increasing session IDs for
// WithTransaction calls and session-scoped callers that need a stable
// handle to key against. The zero value is usable.
type SessionManager struct {
	mu        sync.Mutex
	sessionID uint64
}

// NextSessionID returns the next unused session ID.
func (m *SessionManager) NextSessionID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID++
	return m.sessionID
}
