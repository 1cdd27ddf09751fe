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

// Package memory implements the in-memory reference driver: the backend
// that interprets Selections directly and defines the semantics every
// other driver (SQL dialect, Mongo) must match. It is the executable
// specification of table materialization, filter evaluation, sorting,
// grouping and update/create execution.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/selection"
)

// Driver is the in-memory backend. The zero value is not usable; build
// one with New.
type Driver struct {
	mu      sync.RWMutex
	tables  map[string][]sql.Row // insertion order, copy-on-write per row
	autoInc map[string]int64     // last assigned value per table
	indexes map[string][]indexDef
	sess    driver.SessionManager
}

type indexDef struct {
	Name   string
	Fields []string
	Unique bool
}

// New returns an empty in-memory Driver.
func New() *Driver {
	return &Driver{
		tables:  map[string][]sql.Row{},
		autoInc: map[string]int64{},
		indexes: map[string][]indexDef{},
	}
}

func (d *Driver) Start(ctx context.Context) error { return nil }
func (d *Driver) Stop(ctx context.Context) error  { return nil }

// Prepare ensures a table slot exists; the in-memory driver has no schema
// migration to perform since it never persists a physical column layout.
func (d *Driver) Prepare(ctx context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[table]; !ok {
		d.tables[table] = nil
	}
	return nil
}

func (d *Driver) evalCtx(ctx context.Context) *sql.EvalContext {
	ec := &sql.EvalContext{Context: ctx}
	ec.Exec = func(inner *sql.EvalContext, sel interface{}) ([]sql.Row, error) {
		s, ok := sel.(*selection.Selection)
		if !ok {
			return nil, kerr.UnsupportedExpression.New("$exec target is not a bound selection")
		}
		return d.Get(inner, s)
	}
	return ec
}

// Get implements driver.Driver.
func (d *Driver) Get(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error) {
	rows, err := d.materialize(ctx, sel)
	if err != nil {
		return nil, err
	}

	filtered := make([]sql.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, row)
		}
	}

	sortRows(ctx, sel.Ref, filtered, sel.Get.Sort)

	if len(sel.Get.Group) > 0 {
		filtered, err = d.group(ctx, sel, filtered)
		if err != nil {
			return nil, err
		}
	}

	lo := sel.Get.Offset
	if lo > len(filtered) {
		lo = len(filtered)
	}
	hi := len(filtered)
	if sel.Get.Limit > 0 && sel.Get.Limit < selection.DefaultLimit {
		if lo+sel.Get.Limit < hi {
			hi = lo + sel.Get.Limit
		}
	}
	page := filtered[lo:hi]

	out := make([]sql.Row, len(page))
	for i, row := range page {
		out[i] = d.project(ctx, sel, row)
	}
	return out, nil
}

func (d *Driver) materialize(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error) {
	if name, ok := sel.TableName(); ok {
		d.mu.RLock()
		rows := make([]sql.Row, len(d.tables[name]))
		copy(rows, d.tables[name])
		d.mu.RUnlock()
		return rows, nil
	}

	if child, ok := sel.ChildSelection(); ok {
		return d.Get(ctx, child)
	}

	if joinTables, ok := sel.JoinTables(); ok {
		perAlias := map[string][]sql.Row{}
		aliases := make([]string, 0, len(joinTables))
		for alias, s := range joinTables {
			rows, err := d.Get(ctx, s)
			if err != nil {
				return nil, err
			}
			perAlias[alias] = rows
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		combos := [][]sql.Row{{}}
		for _, alias := range aliases {
			var next [][]sql.Row
			for _, combo := range combos {
				for _, row := range perAlias[alias] {
					withRow := append(append([]sql.Row{}, combo...), row)
					next = append(next, withRow)
				}
			}
			combos = next
		}
		joined := make([]sql.Row, 0, len(combos))
		for _, combo := range combos {
			row := map[string]interface{}{}
			for i, alias := range aliases {
				row[alias] = combo[i]
			}
			joined = append(joined, row)
		}
		return joined, nil
	}

	return nil, kerr.ModelMismatch.New("selection has no materializable table source")
}

func (d *Driver) group(ctx *sql.EvalContext, sel *selection.Selection, rows []sql.Row) ([]sql.Row, error) {
	type bucket struct {
		key  []interface{}
		rows []sql.Row
	}
	var buckets []bucket

	for _, row := range rows {
		key := make([]interface{}, len(sel.Get.Group))
		for i, g := range sel.Get.Group {
			v, _ := sql.Get(row, []string{g})
			key[i] = v
		}
		found := false
		for i := range buckets {
			if sameKey(buckets[i].key, key) {
				buckets[i].rows = append(buckets[i].rows, row)
				found = true
				break
			}
		}
		if !found {
			buckets = append(buckets, bucket{key: key, rows: []sql.Row{row}})
		}
	}

	out := make([]sql.Row, 0, len(buckets))
	for _, b := range buckets {
		result := map[string]interface{}{}
		for i, g := range sel.Get.Group {
			result[g] = b.key[i]
		}

		aggCtx := *ctx
		if aggCtx.Aggregate == nil {
			aggCtx.Aggregate = map[string][]sql.Row{}
		} else {
			cp := map[string][]sql.Row{}
			for k, v := range aggCtx.Aggregate {
				cp[k] = v
			}
			aggCtx.Aggregate = cp
		}
		aggCtx.Aggregate[sel.Ref] = b.rows

		for name, f := range sel.Model.Fields {
			if f.Deprecated || !f.IsVirtual() {
				continue
			}
			if !sql.IsAggregate(f.Expr) {
				continue
			}
			v, err := f.Expr.Eval(&aggCtx)
			if err != nil {
				return nil, err
			}
			result[name] = v
		}

		ok, err := filter.Eval(&aggCtx, sel.Get.Having, result, sel.Ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, result)
		}
	}
	return out, nil
}

func sameKey(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprintf("%v", a[i]) != fmt.Sprintf("%v", b[i]) {
			return false
		}
	}
	return true
}

func (d *Driver) project(ctx *sql.EvalContext, sel *selection.Selection, row sql.Row) sql.Row {
	fields := sel.Get.Fields
	if fields == nil {
		fields = sel.Model.DefaultProjection()
	}
	grouped := len(sel.Get.Group) > 0
	out := map[string]interface{}{}
	for _, name := range fields {
		if f, ok := sel.Model.Fields[name]; ok && f.IsVirtual() {
			// group() has already folded each partition's aggregate
			// virtual fields into row; re-evaluating here would run
			// against the single grouped row with no partition in
			// scope, so pass the computed value through instead.
			if grouped && sql.IsAggregate(f.Expr) {
				v, _ := sql.Get(row, []string{name})
				out[name] = v
				continue
			}
			v, err := f.Expr.Eval(ctx.WithRow(sel.Ref, row))
			if err == nil {
				out[name] = v
			}
			continue
		}
		v, _ := sql.Get(row, []string{name})
		out[name] = v
	}
	return out
}

func sortRows(ctx *sql.EvalContext, ref string, rows []sql.Row, terms []selection.SortTerm) {
	if len(terms) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri := ctx.WithRow(ref, rows[i])
		rj := ctx.WithRow(ref, rows[j])
		for _, t := range terms {
			vi, _ := t.Expr.Eval(ri)
			vj, _ := t.Expr.Eval(rj)
			c := compareOrdered(vi, vj)
			if c == 0 {
				continue
			}
			if t.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareOrdered implements the executor's stable total order: null <
// any value; numbers compare numerically; strings lexicographically;
// booleans as 0/1.
func compareOrdered(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	if as < bs {
		return -1
	}
	if as > bs {
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
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

// Eval implements driver.Driver.
func (d *Driver) Eval(ctx *sql.EvalContext, sel *selection.Selection) (interface{}, error) {
	child, ok := sel.ChildSelection()
	var rows []sql.Row
	var err error
	if ok {
		rows, err = d.Get(ctx, child)
	} else {
		rows, err = d.materialize(ctx, sel)
	}
	if err != nil {
		return nil, err
	}

	if sql.IsAggregate(sel.Eval.Expr) {
		aggCtx := *ctx
		aggCtx.Aggregate = map[string][]sql.Row{sel.Ref: rows}
		return sel.Eval.Expr.Eval(&aggCtx)
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return sel.Eval.Expr.Eval(ctx.WithRow(sel.Ref, rows[0]))
}

// Set implements driver.Driver.
func (d *Driver) Set(ctx *sql.EvalContext, sel *selection.Selection) (driver.SetResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.SetResult{}, kerr.ModelMismatch.New("set requires a bare table selection")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rows := d.tables[name]
	var matched, modified int64
	for i, row := range rows {
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return driver.SetResult{}, err
		}
		if !ok {
			continue
		}
		matched++
		updated := row
		changed := false
		rowCtx := ctx.WithRow(sel.Ref, row)
		for path, e := range sel.Set.Updates {
			v, err := e.Eval(rowCtx)
			if err != nil {
				return driver.SetResult{}, err
			}
			updated = sql.Set(updated, strings.Split(path, "."), v).(map[string]interface{})
			changed = true
		}
		if changed {
			rows[i] = updated
			modified++
		}
	}
	d.tables[name] = rows

	return driver.SetResult{Matched: matched, Modified: &modified}, nil
}

// Remove implements driver.Driver.
func (d *Driver) Remove(ctx *sql.EvalContext, sel *selection.Selection) (driver.RemoveResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.RemoveResult{}, kerr.ModelMismatch.New("remove requires a bare table selection")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rows := d.tables[name]
	kept := make([]sql.Row, 0, len(rows))
	var removed int64
	for _, row := range rows {
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return driver.RemoveResult{}, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	d.tables[name] = kept
	return driver.RemoveResult{Removed: removed}, nil
}

// Create implements driver.Driver. If the model declares autoInc and the
// primary key is unset, the next value is assigned monotonically from
// the table's running counter; otherwise primary uniqueness is validated
// and a DuplicateEntry error is raised on collision.
func (d *Driver) Create(ctx *sql.EvalContext, sel *selection.Selection) (sql.Row, error) {
	name, ok := sel.TableName()
	if !ok {
		return nil, kerr.ModelMismatch.New("create requires a bare table selection")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	row := map[string]interface{}{}
	for k, v := range sel.Create.Row {
		row[k] = v
	}

	m := sel.Model
	if m.AutoInc && len(m.Primary) == 1 {
		key := m.Primary[0]
		if _, present := row[key]; !present {
			d.autoInc[name]++
			row[key] = d.autoInc[name]
		} else if n, ok := toFloat(row[key]); ok && int64(n) > d.autoInc[name] {
			d.autoInc[name] = int64(n)
		}
	}

	if len(m.Primary) > 0 {
		for _, existing := range d.tables[name] {
			if primaryEqual(existing, row, m.Primary) {
				return nil, kerr.DuplicateEntry.New(fmt.Sprintf("%s: duplicate primary key", name))
			}
		}
	}

	d.tables[name] = append(d.tables[name], row)
	return row, nil
}

func primaryEqual(a, b sql.Row, keys []string) bool {
	for _, k := range keys {
		av, _ := sql.Get(a, []string{k})
		bv, _ := sql.Get(b, []string{k})
		if compareOrdered(av, bv) != 0 {
			return false
		}
	}
	return true
}

// Upsert implements driver.Driver: every row is matched against existing
// rows by keys; a match updates in place, otherwise a new row is
// inserted (subject to the same autoInc/duplicate rules as Create).
func (d *Driver) Upsert(ctx *sql.EvalContext, sel *selection.Selection) (driver.UpsertResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.UpsertResult{}, kerr.ModelMismatch.New("upsert requires a bare table selection")
	}

	var result driver.UpsertResult
	var modified int64
	for _, incoming := range sel.Upsert.Rows {
		matchedIdx := -1
		d.mu.RLock()
		for i, existing := range d.tables[name] {
			if rowMatchesKeys(existing, incoming, sel.Upsert.Keys) {
				matchedIdx = i
				break
			}
		}
		d.mu.RUnlock()

		if matchedIdx >= 0 {
			d.mu.Lock()
			merged := map[string]interface{}{}
			for k, v := range d.tables[name][matchedIdx] {
				merged[k] = v
			}
			for k, v := range incoming {
				merged[k] = v
			}
			d.tables[name][matchedIdx] = merged
			d.mu.Unlock()
			result.Matched++
			modified++
			continue
		}

		createSel := *sel
		createSel.Type = selection.OpCreate
		createSel.Create = selection.CreateArgs{Row: incoming}
		if _, err := d.Create(ctx, &createSel); err != nil {
			return driver.UpsertResult{}, err
		}
		result.Inserted++
	}
	result.Modified = &modified
	return result, nil
}

func rowMatchesKeys(existing, incoming sql.Row, keys []string) bool {
	for _, k := range keys {
		ev, _ := sql.Get(existing, []string{k})
		iv, ok := incoming[k]
		if !ok || compareOrdered(ev, iv) != 0 {
			return false
		}
	}
	return len(keys) > 0
}

// WithTransaction implements driver.Driver. The in-memory backend has no
// real isolation to offer, so fn runs against the shared store after the
// rows of every table are snapshotted; if fn returns an error, every
// table's rows are restored from that snapshot, which also discards
// writes made from outside fn in the meantime. Auto-increment counters
// and indexes are not restored. Sessions are tracked only so
// session-scoped callers (the console bridge) have a stable handle to
// key against.
func (d *Driver) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_ = d.sess.NextSessionID()
	d.mu.RLock()
	saved := make(map[string][]sql.Row, len(d.tables))
	for name, rows := range d.tables {
		saved[name] = append([]sql.Row(nil), rows...)
	}
	d.mu.RUnlock()
	if err := fn(ctx); err != nil {
		d.mu.Lock()
		d.tables = saved
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *Driver) Drop(ctx context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tables, table)
	delete(d.autoInc, table)
	delete(d.indexes, table)
	return nil
}

func (d *Driver) DropAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = map[string][]sql.Row{}
	d.autoInc = map[string]int64{}
	d.indexes = map[string][]indexDef{}
	return nil
}

func (d *Driver) Stats(ctx context.Context) (driver.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	counts := make(map[string]int64, len(d.tables))
	for name, rows := range d.tables {
		counts[name] = int64(len(rows))
	}
	return driver.Stats{Tables: counts}, nil
}

func (d *Driver) CreateIndex(ctx context.Context, table string, fields []string, unique bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := table + "_" + fmt.Sprint(len(d.indexes[table]))
	d.indexes[table] = append(d.indexes[table], indexDef{Name: name, Fields: fields, Unique: unique})
	return nil
}

func (d *Driver) DropIndex(ctx context.Context, table, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.indexes[table][:0]
	for _, idx := range d.indexes[table] {
		if idx.Name != name {
			kept = append(kept, idx)
		}
	}
	d.indexes[table] = kept
	return nil
}

func (d *Driver) GetIndexes(ctx context.Context, table string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.indexes[table]))
	for i, idx := range d.indexes[table] {
		names[i] = idx.Name
	}
	return names, nil
}

var _ driver.Driver = (*Driver)(nil)

// EvalContext builds an EvalContext bound to ctx with d installed as its
// $exec executor, the entry point callers use before invoking Get/Eval/
// Set/Remove/Create/Upsert directly.
func (d *Driver) EvalContext(ctx context.Context) *sql.EvalContext {
	return d.evalCtx(ctx)
}

