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

package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quarksql "github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d := New(":memory:")
	require.NoError(t, d.Start(context.Background()))
	_, err := d.db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func itemsModel() model.Model {
	return model.Model{
		Name: "items",
		Fields: map[string]model.Field{
			"id":   model.NewField("id", quarksql.KindInteger),
			"name": model.NewField("name", quarksql.KindString),
		},
		Primary: []string{"id"},
		AutoInc: true,
	}
}

func TestCreateAndGet(t *testing.T) {
	d := newTestDriver(t)
	ec := &quarksql.EvalContext{Context: context.Background()}

	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Type = selection.OpCreate
	sel.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1, "name": "a"}}
	row, err := d.Create(ec, &sel)
	require.NoError(t, err)
	assert.EqualValues(t, 1, row["id"])

	get := selection.From("t", "items")
	get.Model = itemsModel()
	get.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"name"}, Kind: filter.Eq, Value: "a"}}}
	rows, err := d.Get(ec, &get)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["id"])
}

func TestCreateRejectsDuplicatePrimary(t *testing.T) {
	d := newTestDriver(t)
	ec := &quarksql.EvalContext{Context: context.Background()}

	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Type = selection.OpCreate
	sel.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1, "name": "a"}}
	_, err := d.Create(ec, &sel)
	require.NoError(t, err)

	_, err = d.Create(ec, &sel)
	require.Error(t, err)
}

func TestSetAndRemove(t *testing.T) {
	d := newTestDriver(t)
	ec := &quarksql.EvalContext{Context: context.Background()}

	create := selection.From("t", "items")
	create.Model = itemsModel()
	create.Type = selection.OpCreate
	create.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1, "name": "a"}}
	_, err := d.Create(ec, &create)
	require.NoError(t, err)

	set := selection.From("t", "items")
	set.Model = itemsModel()
	set.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}
	sel := set.AsSet(map[string]quarksql.Expression{"name": expr.Literal("b")})
	setRes, err := d.Set(ec, &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), setRes.Matched)

	remove := selection.From("t", "items")
	remove.Model = itemsModel()
	remove.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}
	rmRes, err := d.Remove(ec, &remove)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rmRes.Removed)
}

func TestCreateIndexAndGetIndexesAndDropIndex(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.CreateIndex(ctx, "items", []string{"name"}, false))
	names, err := d.GetIndexes(ctx, "items")
	require.NoError(t, err)
	require.Len(t, names, 1)

	require.NoError(t, d.DropIndex(ctx, "items", names[0]))
	names, err = d.GetIndexes(ctx, "items")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDropAllRemovesEveryTable(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.DropAll(ctx))

	_, err := d.db.Exec(`SELECT 1 FROM items`)
	require.Error(t, err)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	d := newTestDriver(t)
	ec := &quarksql.EvalContext{Context: context.Background()}

	sentinel := assert.AnError
	err := d.WithTransaction(context.Background(), func(ctx context.Context) error {
		sel := selection.From("t", "items")
		sel.Model = itemsModel()
		sel.Type = selection.OpCreate
		sel.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1, "name": "a"}}
		ec.Context = ctx
		_, cerr := d.Create(ec, &sel)
		require.NoError(t, cerr)
		return sentinel
	})
	assert.Equal(t, sentinel, err)

	get := selection.From("t", "items")
	get.Model = itemsModel()
	rows, err := d.Get(&quarksql.EvalContext{Context: context.Background()}, &get)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
