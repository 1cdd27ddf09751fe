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

package console

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeString(t *testing.T) {
	s, err := Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, "shello", s)

	v, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestEncodeDecodeBinary(t *testing.T) {
	s, err := Encode([]byte("abc"))
	require.NoError(t, err)
	v, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestEncodeDecodeBigInt(t *testing.T) {
	d := decimal.NewFromInt(9223372036854775807)
	s, err := Encode(d)
	require.NoError(t, err)
	v, err := Decode(s)
	require.NoError(t, err)
	assert.True(t, d.Equal(v.(decimal.Decimal)))
}

func TestEncodeDecodeDate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Encode(ts)
	require.NoError(t, err)
	v, err := Decode(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(v.(time.Time)))
}

func TestEncodeDecodeRegex(t *testing.T) {
	rv := RegexValue{Source: "^a.*z$", Flags: "i"}
	s, err := Encode(rv)
	require.NoError(t, err)
	v, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, rv, v)
}

func TestEncodeRejectsUnsupportedType(t *testing.T) {
	_, err := Encode(struct{ X int }{X: 1})
	require.Error(t, err)
}

func TestDecodeEmptyIsNil(t *testing.T) {
	v, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeFallsBackToJSON(t *testing.T) {
	v, err := Decode("42")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestDecodeInvalidJSONFails(t *testing.T) {
	_, err := Decode("{not json")
	require.Error(t, err)
}
