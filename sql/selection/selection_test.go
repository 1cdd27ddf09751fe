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

package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarkdb/quark/sql/filter"
)

func TestFromDefaultsLimit(t *testing.T) {
	s := From("t", "items")
	assert.Equal(t, DefaultLimit, s.Get.Limit)
	name, ok := s.TableName()
	assert.True(t, ok)
	assert.Equal(t, "items", name)
}

func TestBuilderMethodsDoNotMutateReceiver(t *testing.T) {
	base := From("t", "items")
	withWhere := base.Where(filter.Query{Matchers: []filter.FieldMatcher{{Path: []string{"a"}, Kind: filter.Eq, Value: 1}}})

	assert.True(t, base.Query.IsEmpty(), "Where must not mutate the receiver")
	assert.False(t, withWhere.Query.IsEmpty())

	withLimit := withWhere.Limit(5)
	assert.Equal(t, DefaultLimit, withWhere.Get.Limit, "Limit must not mutate its receiver")
	assert.Equal(t, 5, withLimit.Get.Limit)
}

func TestProjectSortGroupHavingChaining(t *testing.T) {
	s := From("t", "items").
		Project("a", "b").
		Sort(nil, true).
		GroupBy("a").
		Having(filter.Query{})

	assert.Equal(t, []string{"a", "b"}, s.Get.Fields)
	assert.Len(t, s.Get.Sort, 1)
	assert.True(t, s.Get.Sort[0].Desc)
	assert.Equal(t, []string{"a"}, s.Get.Group)
}

func TestAsEvalSetUpsertRemoveCreate(t *testing.T) {
	base := From("t", "items")

	ev := base.AsEval(nil)
	assert.Equal(t, OpEval, ev.Type)

	set := base.AsSet(nil)
	assert.Equal(t, OpSet, set.Type)

	up := base.AsUpsert(nil, []string{"id"})
	assert.Equal(t, OpUpsert, up.Type)
	assert.Equal(t, []string{"id"}, up.Upsert.Keys)

	rm := base.AsRemove()
	assert.Equal(t, OpRemove, rm.Type)

	cr := base.AsCreate(map[string]interface{}{"id": 1})
	assert.Equal(t, OpCreate, cr.Type)
}

func TestFromSelectionAndJoin(t *testing.T) {
	child := From("c", "items")
	outer := FromSelection("o", child)
	got, ok := outer.ChildSelection()
	assert.True(t, ok)
	assert.Equal(t, "c", got.Ref)

	joined := Join("j", map[string]Selection{"a": From("a", "x"), "b": From("b", "y")})
	assert.True(t, joined.Joins())
	tables, ok := joined.JoinTables()
	assert.True(t, ok)
	assert.Len(t, tables, 2)
}
