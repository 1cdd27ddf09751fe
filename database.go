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

// Package quark is the facade applications obtain once: it owns the
// process-wide Model registry and the Driver registry, builds
// Selections, and dispatches every terminal operation (get/eval/set/
// remove/create/upsert) through the retrieval pass to whichever driver
// a Selection's table(s) are bound to. Everything under sql/, driver/,
// memory/ and dialect/ is reachable without this package; quark only
// threads them together behind the public API surface of §6.1.
package quark

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/retrieve"
	"github.com/quarkdb/quark/sql/selection"
)

// Config configures a Database. The zero value is usable: it logs to
// logrus's standard logger.
type Config struct {
	// Log receives structured lifecycle and dispatch events. Nil
	// defaults to logrus.StandardLogger().
	Log *logrus.Entry
}

// Database is the top-level facade: a Model/type-alias registry, a
// Driver registry, and the retrieval context that binds the two
// together when a Selection is dispatched. Unlike the teacher's
// singleton sqle.Engine, a Database value is explicitly threaded into
// every call site a caller makes; nothing here is package-global.
type Database struct {
	models  *model.Registry
	drivers *driver.Registry
	rc      *retrieve.Context
	log     *logrus.Entry

	mu      sync.Mutex
	primary string // driver name WithTransaction dispatches against
}

// New returns an empty Database. Declare models with Extend and bind at
// least one driver with Connect before issuing any operation.
func New(cfg Config) *Database {
	models := model.NewRegistry()
	drivers := driver.NewRegistry()
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Database{
		models:  models,
		drivers: drivers,
		rc:      &retrieve.Context{Models: models, Drivers: drivers},
		log:     log,
	}
}

// ModelConfig is the declared-at-extend-time configuration of a Model
// (§3.4): its primary key, auto-increment, uniqueness and foreign-key
// constraints.
type ModelConfig struct {
	Primary []string
	AutoInc bool
	Unique  [][]string
	Foreign map[string]model.ForeignKey
}

// Extend declares or idempotently merges fields/config into the named
// model (§4.2).
func (db *Database) Extend(name string, fields []model.Field, cfg ModelConfig) (model.Model, error) {
	m, err := db.models.Extend(name, fields, cfg.Primary, cfg.AutoInc, cfg.Unique, cfg.Foreign)
	if err != nil {
		db.log.WithField("model", name).WithError(err).Debug("extend rejected")
		return model.Model{}, err
	}
	db.log.WithField("model", name).Trace("model extended")
	return m, nil
}

// Define registers a type-alias Converter translating kind to and from
// a backing representation (§4.2).
func (db *Database) Define(kind sql.FieldKind, conv model.Converter) {
	db.models.Define(kind, conv)
}

// Connect starts d, prepares it against every table name it owns, and
// registers it under name. The first successful Connect call becomes
// the driver WithTransaction dispatches against; call SetPrimary to
// change it.
func (db *Database) Connect(ctx context.Context, name string, d driver.Driver, tables ...string) error {
	if err := d.Start(ctx); err != nil {
		db.log.WithField("driver", name).WithError(err).Error("driver start failed")
		return err
	}
	for _, t := range tables {
		if err := d.Prepare(ctx, t); err != nil {
			db.log.WithField("driver", name).WithField("table", t).WithError(err).Error("prepare failed")
			return err
		}
	}
	db.drivers.Register(name, d, tables...)

	db.mu.Lock()
	if db.primary == "" {
		db.primary = name
	}
	db.mu.Unlock()

	db.log.WithField("driver", name).WithField("tables", tables).Info("driver connected")
	return nil
}

// SetPrimary changes the driver WithTransaction dispatches against.
func (db *Database) SetPrimary(name string) {
	db.mu.Lock()
	db.primary = name
	db.mu.Unlock()
}

// genRef mints a Selection alias unique within one compilation (§3.6):
// a short table-prefixed UUID, matching the teacher's convention of
// human-legible-but-unique identifiers.
func genRef(table string) string {
	return fmt.Sprintf("%s_%s", table, uuid.New().String()[:8])
}

// Select starts a `get` Selection over table, optionally narrowed by a
// filter Query (§6.1's `select(table, query?)`).
func (db *Database) Select(table string, q ...filter.Query) selection.Selection {
	sel := selection.From(genRef(table), table)
	if len(q) > 0 {
		sel = sel.Where(q[0])
	}
	return sel
}

func (db *Database) retrieve(sel selection.Selection) (selection.Selection, error) {
	retrieved, err := db.rc.Retrieve(sel)
	if err != nil {
		db.log.WithError(err).Debug("retrieval rejected selection")
		return selection.Selection{}, err
	}
	return retrieved, nil
}

// evalContext builds the EvalContext a dispatched operation runs under,
// wiring $exec so a nested selection is resolved against whatever
// driver the retrieval pass bound it to (possibly different from the
// outer operation's driver, in a cross-backend join).
func (db *Database) evalContext(ctx context.Context) *sql.EvalContext {
	ec := &sql.EvalContext{Context: ctx}
	ec.Exec = func(inner *sql.EvalContext, raw interface{}) ([]sql.Row, error) {
		nested, ok := raw.(*selection.Selection)
		if !ok {
			return nil, kerr.UnsupportedExpression.New("$exec target is not a bound selection")
		}
		d, err := driverOf(*nested)
		if err != nil {
			return nil, err
		}
		return d.Get(inner, nested)
	}
	return ec
}

func driverOf(sel selection.Selection) (driver.Driver, error) {
	d, ok := sel.Driver.(driver.Driver)
	if !ok {
		return nil, kerr.DriverUnavailable.New(fmt.Sprintf("no driver bound for ref %q", sel.Ref))
	}
	return d, nil
}

// Get dispatches a `get` Selection, returning its rows (§6.1's
// `get(table, query, fields?)` is Get(ctx, db.Select(table, query).Project(fields...))).
func (db *Database) Get(ctx context.Context, sel selection.Selection) ([]sql.Row, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return nil, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return nil, err
	}
	return d.Get(db.evalContext(ctx), &retrieved)
}

// Eval dispatches an `eval` Selection (built with Selection.AsEval),
// returning the scalar or array the wrapped expression denotes.
func (db *Database) Eval(ctx context.Context, sel selection.Selection) (interface{}, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return nil, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return nil, err
	}
	return d.Eval(db.evalContext(ctx), &retrieved)
}

// Set dispatches a `set` Selection (built with Selection.AsSet).
func (db *Database) Set(ctx context.Context, sel selection.Selection) (driver.SetResult, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return driver.SetResult{}, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return driver.SetResult{}, err
	}
	return d.Set(db.evalContext(ctx), &retrieved)
}

// Remove dispatches a `remove` Selection (built with Selection.AsRemove).
func (db *Database) Remove(ctx context.Context, sel selection.Selection) (driver.RemoveResult, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return driver.RemoveResult{}, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return driver.RemoveResult{}, err
	}
	return d.Remove(db.evalContext(ctx), &retrieved)
}

// Create dispatches a `create` Selection (built with Selection.AsCreate),
// returning the row with any server-assigned fields (e.g. autoInc)
// filled in.
func (db *Database) Create(ctx context.Context, sel selection.Selection) (sql.Row, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return nil, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return nil, err
	}
	return d.Create(db.evalContext(ctx), &retrieved)
}

// Upsert dispatches an `upsert` Selection (built with Selection.AsUpsert).
func (db *Database) Upsert(ctx context.Context, sel selection.Selection) (driver.UpsertResult, error) {
	retrieved, err := db.retrieve(sel)
	if err != nil {
		return driver.UpsertResult{}, err
	}
	d, err := driverOf(retrieved)
	if err != nil {
		return driver.UpsertResult{}, err
	}
	return d.Upsert(db.evalContext(ctx), &retrieved)
}

// WithTransaction runs fn against the primary driver's session,
// committing when fn returns nil and rolling back otherwise (§5). Set
// the primary driver at Connect time or with SetPrimary; a Database
// bound to several drivers only ever transacts against one of them at
// a time, matching the "single-logical-thread per facade" scheduling
// model of §5.
func (db *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	db.mu.Lock()
	name := db.primary
	db.mu.Unlock()
	if name == "" {
		return kerr.DriverUnavailable.New("no driver connected")
	}
	d, ok := db.drivers.Get(name)
	if !ok {
		return kerr.DriverUnavailable.New(name)
	}
	db.log.WithField("driver", name).Trace("transaction begin")
	err := d.WithTransaction(ctx, fn)
	if err != nil {
		db.log.WithField("driver", name).WithError(err).Debug("transaction rolled back")
	} else {
		db.log.WithField("driver", name).Trace("transaction committed")
	}
	return err
}

// Drop drops table against the driver bound to it.
func (db *Database) Drop(ctx context.Context, table string) error {
	d, ok := db.drivers.DriverForTable(table)
	if !ok {
		return kerr.DriverUnavailable.New(table)
	}
	return d.Drop(ctx, table)
}

// DropAll drops every table on every connected driver.
func (db *Database) DropAll(ctx context.Context) error {
	for name, d := range db.allDrivers() {
		if err := d.DropAll(ctx); err != nil {
			return kerr.BackendError.New(fmt.Sprintf("%s: %v", name, err))
		}
	}
	return nil
}

// StopAll stops every connected driver, idempotently.
func (db *Database) StopAll(ctx context.Context) error {
	for name, d := range db.allDrivers() {
		if err := d.Stop(ctx); err != nil {
			return kerr.BackendError.New(fmt.Sprintf("%s: %v", name, err))
		}
	}
	return nil
}

// Stats reports size/row counts per connected driver, keyed by driver
// name.
func (db *Database) Stats(ctx context.Context) (map[string]driver.Stats, error) {
	out := map[string]driver.Stats{}
	for name, d := range db.allDrivers() {
		s, err := d.Stats(ctx)
		if err != nil {
			return nil, kerr.BackendError.New(fmt.Sprintf("%s: %v", name, err))
		}
		out[name] = s
	}
	return out, nil
}

func (db *Database) allDrivers() map[string]driver.Driver {
	return db.drivers.All()
}
