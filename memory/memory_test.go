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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
)

func itemsModel() model.Model {
	return model.Model{
		Name: "items",
		Fields: map[string]model.Field{
			"id":     model.NewField("id", sql.KindInteger),
			"name":   model.NewField("name", sql.KindString),
			"amount": model.NewField("amount", sql.KindDouble),
		},
		Primary: []string{"id"},
		AutoInc: true,
	}
}

func seed(t *testing.T, d *Driver, rows ...sql.Row) {
	t.Helper()
	require.NoError(t, d.Prepare(context.Background(), "items"))
	for _, r := range rows {
		sel := selection.From("t", "items")
		sel.Model = itemsModel()
		sel.Type = selection.OpCreate
		sel.Create = selection.CreateArgs{Row: r}
		_, err := d.Create(d.EvalContext(context.Background()), &sel)
		require.NoError(t, err)
	}
}

func TestCreateAssignsAutoIncWhenUnset(t *testing.T) {
	d := New()
	seed(t, d)
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Type = selection.OpCreate
	sel.Create = selection.CreateArgs{Row: map[string]interface{}{"name": "a"}}
	row, err := d.Create(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])

	row2, err := d.Create(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row2["id"])
}

func TestCreateRejectsDuplicatePrimary(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1, "name": "a"})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Type = selection.OpCreate
	sel.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1, "name": "b"}}
	_, err := d.Create(d.EvalContext(context.Background()), &sel)
	require.Error(t, err)
}

func TestGetFiltersSortsPaginates(t *testing.T) {
	d := New()
	seed(t, d,
		sql.Row{"id": 1, "name": "c", "amount": 30.0},
		sql.Row{"id": 2, "name": "a", "amount": 10.0},
		sql.Row{"id": 3, "name": "b", "amount": 20.0},
	)

	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"amount"}, Kind: filter.Gte, Value: 15.0}}}
	sel.Get.Sort = []selection.SortTerm{{Expr: expr.Ref("t", []string{"amount"})}}
	sel.Get.Limit = 1
	sel.Get.Offset = 1

	rows, err := d.Get(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["name"])
}

func TestGetDefaultProjectionExcludesDeprecated(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1, "name": "a", "amount": 5.0})

	m := itemsModel()
	m.Fields["legacy"] = model.NewField("legacy", sql.KindString, model.Deprecate())

	sel := selection.From("t", "items")
	sel.Model = m

	rows, err := d.Get(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, hasLegacy := rows[0]["legacy"]
	assert.False(t, hasLegacy)
}

func TestGroupByAggregatesVirtualFields(t *testing.T) {
	d := New()
	seed(t, d,
		sql.Row{"id": 1, "name": "a", "amount": 10.0},
		sql.Row{"id": 2, "name": "a", "amount": 20.0},
		sql.Row{"id": 3, "name": "b", "amount": 5.0},
	)

	agg, err := expr.NewAggregate("$sum", expr.Ref("t", []string{"amount"}))
	require.NoError(t, err)

	m := itemsModel()
	m.Fields["total"] = model.NewField("total", sql.KindExpr, model.Virtual(agg))

	sel := selection.From("t", "items")
	sel.Model = m
	sel.Get.Group = []string{"name"}
	sel.Get.Fields = []string{"name", "total"}

	rows, err := d.Get(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	totals := map[string]interface{}{}
	for _, r := range rows {
		totals[r["name"].(string)] = r["total"]
	}
	assert.Equal(t, 30.0, totals["a"])
	assert.Equal(t, 5.0, totals["b"])
}

func TestSetMergesDottedPath(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1, "meta": map[string]interface{}{"a": map[string]interface{}{"b": 1}}})

	sel := selection.From("t", "items")
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}
	sel.Type = selection.OpSet
	sel.Set = selection.SetArgs{Updates: map[string]sql.Expression{"meta.a.c": expr.Literal(2)}}

	res, err := d.Set(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(1), *res.Modified)

	rows := d.tables["items"]
	require.Len(t, rows, 1)
	meta := rows[0]["meta"].(map[string]interface{})
	a := meta["a"].(map[string]interface{})
	assert.EqualValues(t, 1, a["b"])
	assert.EqualValues(t, 2, a["c"])
}

func TestRemoveDeletesMatchingRows(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1}, sql.Row{"id": 2})

	sel := selection.From("t", "items")
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}
	sel.Type = selection.OpRemove

	res, err := d.Remove(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Removed)

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Tables["items"])
}

func TestUpsertUpdatesExistingAndInsertsNew(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1, "name": "a"})

	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Type = selection.OpUpsert
	sel.Upsert = selection.UpsertArgs{
		Rows: []map[string]interface{}{
			{"id": 1, "name": "updated"},
			{"id": 2, "name": "new"},
		},
		Keys: []string{"id"},
	}

	res, err := d.Upsert(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(1), res.Inserted)
}

func TestEvalAggregateOverWholeTable(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1, "amount": 10.0}, sql.Row{"id": 2, "amount": 20.0})

	agg, err := expr.NewAggregate("$sum", expr.Ref("t", []string{"amount"}))
	require.NoError(t, err)

	sel := selection.From("t", "items").AsEval(agg)
	sel.Model = itemsModel()

	v, err := d.Eval(d.EvalContext(context.Background()), &sel)
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)
}

func TestDropAllClearsEverything(t *testing.T) {
	d := New()
	seed(t, d, sql.Row{"id": 1})
	require.NoError(t, d.DropAll(context.Background()))
	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.Tables)
}

func TestCreateIndexAndDropIndex(t *testing.T) {
	d := New()
	require.NoError(t, d.Prepare(context.Background(), "items"))
	require.NoError(t, d.CreateIndex(context.Background(), "items", []string{"name"}, false))
	names, err := d.GetIndexes(context.Background(), "items")
	require.NoError(t, err)
	require.Len(t, names, 1)

	require.NoError(t, d.DropIndex(context.Background(), "items", names[0]))
	names, err = d.GetIndexes(context.Background(), "items")
	require.NoError(t, err)
	assert.Empty(t, names)
}
