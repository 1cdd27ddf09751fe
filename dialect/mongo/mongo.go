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

// Package mongo implements the document-store backend against
// go.mongodb.org/mongo-driver. Unlike the SQL dialects, it never lowers
// to a text query language: FieldMatcher values are pushed down to a
// native bson.M filter where the matcher kind has a direct Mongo
// operator, sorting/grouping/projection and anything a pushed-down
// filter can only approximate ($expr, `el`, bit tests) are resolved the
// same way the in-memory executor resolves them, against the documents
// the pushdown filter already narrowed.
package mongo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/selection"
)

// Driver is the MongoDB document-store backend.
type Driver struct {
	client *mongo.Client
	uri    string
	dbName string
	sess   driver.SessionManager
}

// New returns a Driver that connects to uri on Start, addressing database
// dbName.
func New(uri, dbName string) *Driver {
	return &Driver{uri: uri, dbName: dbName}
}

func (d *Driver) Start(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
	if err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return kerr.DriverUnavailable.New(err.Error())
	}
	d.client = client
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	err := d.client.Disconnect(ctx)
	d.client = nil
	return err
}

func (d *Driver) Prepare(ctx context.Context, table string) error { return nil }

func (d *Driver) coll(name string) *mongo.Collection {
	return d.client.Database(d.dbName).Collection(name)
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

// EvalContext builds an EvalContext bound to ctx with d installed as its
// $exec executor.
func (d *Driver) EvalContext(ctx context.Context) *sql.EvalContext {
	return d.evalCtx(ctx)
}

// pushdownFilter builds the bson.M that narrows the server-side cursor.
// It only emits operators that have an exact Mongo equivalent; every
// fetched document is still re-checked against the full Query with
// filter.Eval, so an imprecise or omitted clause here only costs extra
// documents over the wire, never correctness.
func pushdownFilter(q filter.Query) bson.M {
	out := bson.M{}
	for _, m := range q.Matchers {
		key := strings.Join(m.Path, ".")
		switch m.Kind {
		case filter.Eq:
			out[key] = m.Value
		case filter.Ne:
			out[key] = bson.M{"$ne": m.Value}
		case filter.Lt:
			out[key] = bson.M{"$lt": m.Value}
		case filter.Lte:
			out[key] = bson.M{"$lte": m.Value}
		case filter.Gt:
			out[key] = bson.M{"$gt": m.Value}
		case filter.Gte:
			out[key] = bson.M{"$gte": m.Value}
		case filter.In:
			out[key] = bson.M{"$in": m.Value}
		case filter.Nin:
			out[key] = bson.M{"$nin": m.Value}
		case filter.Exists:
			out[key] = bson.M{"$exists": m.Value}
		}
	}
	for _, sub := range q.And {
		if f := pushdownFilter(sub); len(f) > 0 {
			for k, v := range f {
				out[k] = v
			}
		}
	}
	return out
}

func (d *Driver) fetchMatching(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error) {
	rows, err := d.materialize(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]sql.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (d *Driver) materialize(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error) {
	if name, ok := sel.TableName(); ok {
		cur, err := d.coll(name).Find(ctx, pushdownFilter(sel.Query))
		if err != nil {
			return nil, kerr.BackendError.New(err.Error())
		}
		defer cur.Close(ctx)
		var out []sql.Row
		for cur.Next(ctx) {
			var doc bson.M
			if err := cur.Decode(&doc); err != nil {
				return nil, kerr.BackendError.New(err.Error())
			}
			row := map[string]interface{}{}
			for k, v := range doc {
				if k == "_id" {
					continue
				}
				row[k] = v
			}
			out = append(out, row)
		}
		return out, cur.Err()
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

// Get implements driver.Driver.
func (d *Driver) Get(ctx *sql.EvalContext, sel *selection.Selection) ([]sql.Row, error) {
	filtered, err := d.fetchMatching(ctx, sel)
	if err != nil {
		return nil, err
	}

	sortRows(ctx, sel.Ref, filtered, sel.Get.Sort)

	if len(sel.Get.Group) > 0 {
		filtered, err = group(ctx, sel, filtered)
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
		out[i] = project(ctx, sel, row)
	}
	return out, nil
}

func group(ctx *sql.EvalContext, sel *selection.Selection, rows []sql.Row) ([]sql.Row, error) {
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
		aggCtx.Aggregate = map[string][]sql.Row{sel.Ref: b.rows}

		for name, f := range sel.Model.Fields {
			if f.Deprecated || !f.IsVirtual() || !sql.IsAggregate(f.Expr) {
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

func project(ctx *sql.EvalContext, sel *selection.Selection, row sql.Row) sql.Row {
	fields := sel.Get.Fields
	if fields == nil {
		fields = sel.Model.DefaultProjection()
	}
	out := map[string]interface{}{}
	for _, name := range fields {
		if f, ok := sel.Model.Fields[name]; ok && f.IsVirtual() {
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
		rows, err = d.fetchMatching(ctx, sel)
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

// Set implements driver.Driver. Updates are computed in Go (they may
// reference the matched document itself) and written back with a
// per-document ReplaceOne.
func (d *Driver) Set(ctx *sql.EvalContext, sel *selection.Selection) (driver.SetResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.SetResult{}, kerr.ModelMismatch.New("set requires a bare table selection")
	}
	cur, err := d.coll(name).Find(ctx, pushdownFilter(sel.Query))
	if err != nil {
		return driver.SetResult{}, kerr.BackendError.New(err.Error())
	}
	defer cur.Close(ctx)

	var matched, modified int64
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return driver.SetResult{}, kerr.BackendError.New(err.Error())
		}
		row := map[string]interface{}{}
		for k, v := range doc {
			if k != "_id" {
				row[k] = v
			}
		}
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return driver.SetResult{}, err
		}
		if !ok {
			continue
		}
		matched++

		rowCtx := ctx.WithRow(sel.Ref, row)
		changed := false
		for path, e := range sel.Set.Updates {
			v, err := e.Eval(rowCtx)
			if err != nil {
				return driver.SetResult{}, err
			}
			doc[path] = v
			changed = true
		}
		if changed {
			if _, err := d.coll(name).ReplaceOne(ctx, bson.M{"_id": doc["_id"]}, doc); err != nil {
				return driver.SetResult{}, kerr.BackendError.New(err.Error())
			}
			modified++
		}
	}
	return driver.SetResult{Matched: matched, Modified: &modified}, cur.Err()
}

// Remove implements driver.Driver.
func (d *Driver) Remove(ctx *sql.EvalContext, sel *selection.Selection) (driver.RemoveResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.RemoveResult{}, kerr.ModelMismatch.New("remove requires a bare table selection")
	}
	cur, err := d.coll(name).Find(ctx, pushdownFilter(sel.Query))
	if err != nil {
		return driver.RemoveResult{}, kerr.BackendError.New(err.Error())
	}
	defer cur.Close(ctx)

	var ids []interface{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return driver.RemoveResult{}, kerr.BackendError.New(err.Error())
		}
		row := map[string]interface{}{}
		for k, v := range doc {
			if k != "_id" {
				row[k] = v
			}
		}
		ok, err := filter.Eval(ctx, sel.Query, row, sel.Ref)
		if err != nil {
			return driver.RemoveResult{}, err
		}
		if ok {
			ids = append(ids, doc["_id"])
		}
	}
	if err := cur.Err(); err != nil {
		return driver.RemoveResult{}, err
	}
	if len(ids) == 0 {
		return driver.RemoveResult{}, nil
	}
	res, err := d.coll(name).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return driver.RemoveResult{}, kerr.BackendError.New(err.Error())
	}
	return driver.RemoveResult{Removed: res.DeletedCount}, nil
}

const countersCollection = "quark_counters"

func (d *Driver) nextAutoInc(ctx context.Context, table string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc bson.M
	err := d.coll(countersCollection).FindOneAndUpdate(
		ctx, bson.M{"_id": table}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	switch v := doc["seq"].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	default:
		return 0, kerr.BackendError.New("counter document has non-numeric seq")
	}
}

// Create implements driver.Driver.
func (d *Driver) Create(ctx *sql.EvalContext, sel *selection.Selection) (sql.Row, error) {
	name, ok := sel.TableName()
	if !ok {
		return nil, kerr.ModelMismatch.New("create requires a bare table selection")
	}

	row := map[string]interface{}{}
	for k, v := range sel.Create.Row {
		row[k] = v
	}

	m := sel.Model
	if m.AutoInc && len(m.Primary) == 1 {
		key := m.Primary[0]
		if _, present := row[key]; !present {
			id, err := d.nextAutoInc(ctx, name)
			if err != nil {
				return nil, kerr.BackendError.New(err.Error())
			}
			row[key] = id
		}
	}

	doc := bson.M{}
	for k, v := range row {
		doc[k] = v
	}
	if _, err := d.coll(name).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, kerr.DuplicateEntry.New(err.Error())
		}
		return nil, kerr.BackendError.New(err.Error())
	}
	return row, nil
}

// Upsert implements driver.Driver using a native FindOneAndUpdate with
// $set and upsert:true, keyed on sel.Upsert.Keys.
func (d *Driver) Upsert(ctx *sql.EvalContext, sel *selection.Selection) (driver.UpsertResult, error) {
	name, ok := sel.TableName()
	if !ok {
		return driver.UpsertResult{}, kerr.ModelMismatch.New("upsert requires a bare table selection")
	}

	var result driver.UpsertResult
	var modified int64
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)
	for _, row := range sel.Upsert.Rows {
		keyFilter := bson.M{}
		for _, k := range sel.Upsert.Keys {
			keyFilter[k] = row[k]
		}
		set := bson.M{}
		for k, v := range row {
			set[k] = v
		}
		var before bson.M
		err := d.coll(name).FindOneAndUpdate(ctx, keyFilter, bson.M{"$set": set}, opts).Decode(&before)
		if err == mongo.ErrNoDocuments {
			result.Inserted++
			continue
		}
		if err != nil {
			return driver.UpsertResult{}, kerr.BackendError.New(err.Error())
		}
		result.Matched++
		modified++
	}
	result.Modified = &modified
	return result, nil
}

// WithTransaction implements driver.Driver using a Mongo client session
// transaction.
func (d *Driver) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_ = d.sess.NextSessionID()
	session, err := d.client.StartSession()
	if err != nil {
		return kerr.BackendError.New(err.Error())
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (d *Driver) Drop(ctx context.Context, table string) error {
	return d.coll(table).Drop(ctx)
}

func (d *Driver) DropAll(ctx context.Context) error {
	names, err := d.client.Database(d.dbName).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return kerr.BackendError.New(err.Error())
	}
	for _, n := range names {
		if err := d.coll(n).Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) Stats(ctx context.Context) (driver.Stats, error) {
	names, err := d.client.Database(d.dbName).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return driver.Stats{}, kerr.BackendError.New(err.Error())
	}
	tables := map[string]int64{}
	for _, n := range names {
		count, err := d.coll(n).CountDocuments(ctx, bson.M{})
		if err != nil {
			return driver.Stats{}, kerr.BackendError.New(err.Error())
		}
		tables[n] = count
	}
	return driver.Stats{Tables: tables}, nil
}

func (d *Driver) CreateIndex(ctx context.Context, table string, fields []string, unique bool) error {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	model := mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(unique)}
	_, err := d.coll(table).Indexes().CreateOne(ctx, model)
	return err
}

func (d *Driver) DropIndex(ctx context.Context, table, name string) error {
	_, err := d.coll(table).Indexes().DropOne(ctx, name)
	return err
}

func (d *Driver) GetIndexes(ctx context.Context, table string) ([]string, error) {
	cur, err := d.coll(table).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var names []string
	for cur.Next(ctx) {
		var idx bson.M
		if err := cur.Decode(&idx); err != nil {
			return nil, err
		}
		if n, ok := idx["name"].(string); ok {
			names = append(names, n)
		}
	}
	return names, cur.Err()
}

var _ driver.Driver = (*Driver)(nil)
