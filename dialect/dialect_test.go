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

package dialect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/model"
	"github.com/quarkdb/quark/sql/selection"
)

// fakeHooks quotes with backticks and numbers placeholders $1, $2, ... so
// assertions don't depend on any one backend's exact spelling.
type fakeHooks struct{}

func (fakeHooks) QuoteIdent(name string) string { return "`" + name + "`" }
func (fakeHooks) Placeholder(n int) string       { return fmt.Sprintf("$%d", n) }
func (fakeHooks) JSONExtract(column string, path []string) string {
	return fmt.Sprintf("JSON_EXTRACT(%s, '$.%s')", column, path[0])
}
func (fakeHooks) Regex(value, pattern string) string {
	return fmt.Sprintf("%s REGEXP %q", value, pattern)
}
func (fakeHooks) Now() string { return "NOW()" }

func itemsModel() model.Model {
	return model.Model{
		Name: "items",
		Fields: map[string]model.Field{
			"id":   model.NewField("id", sql.KindInteger),
			"name": model.NewField("name", sql.KindString),
			"tags": model.NewField("tags", sql.KindJSON),
		},
		Primary: []string{"id"},
	}
}

func TestCompileSelectBasic(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Get.Fields = []string{"id", "name"}
	sel.Get.Limit = 10

	stmt, args, err := c.CompileSelect(&sel)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Contains(t, stmt, "SELECT `id` AS `id`, `name` AS `name`")
	assert.Contains(t, stmt, "FROM `items` AS `t`")
	assert.Contains(t, stmt, "LIMIT 10")
}

func TestCompileSelectWithWhereGroupSort(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"name"}, Kind: filter.Eq, Value: "a"}}}
	sel.Get.Group = []string{"name"}
	sel.Get.Sort = []selection.SortTerm{{Expr: expr.Ref("t", []string{"id"}), Desc: true}}

	stmt, args, err := c.CompileSelect(&sel)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, args)
	assert.Contains(t, stmt, "WHERE `t`.`name` = $1")
	assert.Contains(t, stmt, "GROUP BY `name`")
	assert.Contains(t, stmt, "ORDER BY `t`.`id` DESC")
}

func TestCompileSelectJSONPath(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"tags", "0"}, Kind: filter.Eq, Value: "x"}}}

	stmt, _, err := c.CompileSelect(&sel)
	require.NoError(t, err)
	assert.Contains(t, stmt, "JSON_EXTRACT(`t`.`tags`, '$.0') = $1")
}

func TestCompileSelectRequiresBareTable(t *testing.T) {
	c := New(fakeHooks{})
	child := selection.From("c", "items")
	outer := selection.FromSelection("o", child)
	_, _, err := c.CompileSelect(&outer)
	require.Error(t, err)
}

func TestCompileUpdate(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}
	sel.Set = selection.SetArgs{Updates: map[string]sql.Expression{"name": expr.Literal("b")}}

	stmt, args, err := c.CompileUpdate(&sel)
	require.NoError(t, err)
	assert.Contains(t, stmt, "UPDATE `items` AS `t` SET `name` = $1")
	assert.Contains(t, stmt, "WHERE `t`.`id` = $2")
	assert.Equal(t, []interface{}{"b", 1}, args)
}

func TestCompileDelete(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"id"}, Kind: filter.Eq, Value: 1}}}

	stmt, args, err := c.CompileDelete(&sel)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `items` AS `t` WHERE `t`.`id` = $1", stmt)
	assert.Equal(t, []interface{}{1}, args)
}

func TestCompileInsert(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Create = selection.CreateArgs{Row: map[string]interface{}{"id": 1}}

	stmt, args, err := c.CompileInsert(&sel)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `items` (`id`) VALUES ($1)", stmt)
	assert.Equal(t, []interface{}{1}, args)
}

func TestCompileQueryEmptyOrIsFalse(t *testing.T) {
	c := New(fakeHooks{})
	sel := selection.From("t", "items")
	sel.Model = itemsModel()
	sel.Query = filter.Query{Or: []filter.Query{}}

	stmt, _, err := c.CompileSelect(&sel)
	require.NoError(t, err)
	assert.Contains(t, stmt, "WHERE FALSE")
}

func TestCompileQueryEmptyMatchesAll(t *testing.T) {
	c := New(fakeHooks{})
	var args []interface{}
	clause, _, err := c.compileQuery(itemsModel(), "t", filter.Query{}, &args)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)
}

func TestCompileQueryAndOrNesting(t *testing.T) {
	c := New(fakeHooks{})
	var args []interface{}
	q := filter.Query{
		Or: []filter.Query{
			{Matchers: []filter.FieldMatcher{{Path: []string{"name"}, Kind: filter.Eq, Value: "a"}}},
			{Matchers: []filter.FieldMatcher{{Path: []string{"name"}, Kind: filter.Eq, Value: "b"}}},
		},
	}
	clause, _, err := c.compileQuery(itemsModel(), "t", q, &args)
	require.NoError(t, err)
	assert.Equal(t, "((`t`.`name` = $1) OR (`t`.`name` = $2))", clause)
}

func TestCompileMatcherInAndExists(t *testing.T) {
	c := New(fakeHooks{})
	var args []interface{}

	in, err := c.compileMatcher(itemsModel(), "t", filter.FieldMatcher{Path: []string{"id"}, Kind: filter.In, Value: []interface{}{1, 2}}, &args)
	require.NoError(t, err)
	assert.Equal(t, "`t`.`id` IN ($1, $2)", in)

	args = nil
	ex, err := c.compileMatcher(itemsModel(), "t", filter.FieldMatcher{Path: []string{"name"}, Kind: filter.Exists, Value: false}, &args)
	require.NoError(t, err)
	assert.Equal(t, "`t`.`name` IS NULL", ex)
}

func TestCompileMatcherUnsupportedKind(t *testing.T) {
	c := New(fakeHooks{})
	var args []interface{}
	_, err := c.compileMatcher(itemsModel(), "t", filter.FieldMatcher{Path: []string{"id"}, Kind: filter.Size, Value: 1}, &args)
	require.Error(t, err)
}

func TestCompileExprArithmeticAndUnsupportedOp(t *testing.T) {
	c := New(fakeHooks{})
	var args []interface{}

	e, err := expr.New("$add", expr.Ref("t", []string{"id"}), expr.Literal(1))
	require.NoError(t, err)
	out, _, err := c.compileExpr(itemsModel(), "t", e, &args)
	require.NoError(t, err)
	assert.Equal(t, "(`t`.`id` + $1)", out)

	bad, err := expr.New("$get", expr.Ref("t", []string{"id"}), expr.Literal("x"))
	require.NoError(t, err)
	_, _, err = c.compileExpr(itemsModel(), "t", bad, &args)
	require.Error(t, err)
}
