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

package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
)

// stubDriver is a minimal no-op driver.Driver used only to exercise
// retrieval's binding logic, never actually dispatched in these tests.
type stubDriver struct{}

func (stubDriver) Start(context.Context) error { return nil }
func (stubDriver) Stop(context.Context) error  { return nil }
func (stubDriver) Prepare(context.Context, string) error { return nil }
func (stubDriver) Get(*sql.EvalContext, *selection.Selection) ([]sql.Row, error)   { return nil, nil }
func (stubDriver) Eval(*sql.EvalContext, *selection.Selection) (interface{}, error) { return nil, nil }
func (stubDriver) Set(*sql.EvalContext, *selection.Selection) (driver.SetResult, error) {
	return driver.SetResult{}, nil
}
func (stubDriver) Remove(*sql.EvalContext, *selection.Selection) (driver.RemoveResult, error) {
	return driver.RemoveResult{}, nil
}
func (stubDriver) Create(*sql.EvalContext, *selection.Selection) (sql.Row, error) { return nil, nil }
func (stubDriver) Upsert(*sql.EvalContext, *selection.Selection) (driver.UpsertResult, error) {
	return driver.UpsertResult{}, nil
}
func (stubDriver) WithTransaction(context.Context, func(context.Context) error) error { return nil }
func (stubDriver) Drop(context.Context, string) error    { return nil }
func (stubDriver) DropAll(context.Context) error         { return nil }
func (stubDriver) Stats(context.Context) (driver.Stats, error) { return driver.Stats{}, nil }
func (stubDriver) CreateIndex(context.Context, string, []string, bool) error { return nil }
func (stubDriver) DropIndex(context.Context, string, string) error          { return nil }
func (stubDriver) GetIndexes(context.Context, string) ([]string, error)     { return nil, nil }

func newContext(t *testing.T) *Context {
	models := model.NewRegistry()
	_, err := models.Extend("items", []model.Field{
		model.NewField("id", sql.KindInteger),
		model.NewField("name", sql.KindString),
	}, []string{"id"}, true, nil, nil)
	require.NoError(t, err)

	drivers := driver.NewRegistry()
	drivers.Register("mem", stubDriver{}, "items")

	return &Context{Models: models, Drivers: drivers}
}

func TestRetrieveBindsModelAndDriver(t *testing.T) {
	c := newContext(t)
	sel := selection.From("t", "items")

	retrieved, err := c.Retrieve(sel)
	require.NoError(t, err)
	assert.Equal(t, "items", retrieved.Model.Name)
	assert.IsType(t, stubDriver{}, retrieved.Driver)
	assert.Contains(t, retrieved.Tables, "t")
}

func TestRetrieveUnknownTableFails(t *testing.T) {
	c := newContext(t)
	sel := selection.From("t", "ghost")
	_, err := c.Retrieve(sel)
	require.Error(t, err)
}

func TestRetrieveIsIdempotent(t *testing.T) {
	c := newContext(t)
	sel := selection.From("t", "items").Where(filter.Query{
		Expr: mustOp(t, "$eq", expr.Ref("t", []string{"id"}), expr.Literal(1)),
	})

	once, err := c.Retrieve(sel)
	require.NoError(t, err)
	twice, err := c.Retrieve(once)
	require.NoError(t, err)

	assert.Equal(t, once.Query.Expr.Type().String(), twice.Query.Expr.Type().String())
}

func TestRetrieveSetsDefaultLimit(t *testing.T) {
	c := newContext(t)
	sel := selection.From("t", "items")
	sel.Get.Limit = 0

	retrieved, err := c.Retrieve(sel)
	require.NoError(t, err)
	assert.Equal(t, selection.DefaultLimit, retrieved.Get.Limit)
}

func TestRetrieveEvalWrapsAggregateInArray(t *testing.T) {
	c := newContext(t)
	agg, err := expr.NewAggregate("$sum", expr.Ref("t", []string{"id"}))
	require.NoError(t, err)
	sel := selection.From("t", "items").AsEval(agg)

	retrieved, err := c.Retrieve(sel)
	require.NoError(t, err)
	assert.Equal(t, sql.ShapeArray, retrieved.Eval.Expr.Type().Shape())
}

func TestRetrieveValidatesUnknownCreateField(t *testing.T) {
	c := newContext(t)
	sel := selection.From("t", "items").AsCreate(map[string]interface{}{"bogus": 1})
	_, err := c.Retrieve(sel)
	require.Error(t, err)
}

func mustOp(t *testing.T, name string, children ...sql.Expression) sql.Expression {
	t.Helper()
	e, err := expr.New(name, children...)
	require.NoError(t, err)
	return e
}
