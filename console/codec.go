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

// Package console implements the wire bridge a client uses to drive a
// Driver running in a separate process: a value codec that survives a
// JSON-only transport, and a Server that dispatches one action per
// request against a bound driver.Registry, keeping per-session
// transaction state across requests.
package console

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// prefix byte conventions for Encode/Decode. Values with no matching
// prefix round-trip as plain JSON.
const (
	prefixString = 's'
	prefixBinary = 'b'
	prefixBigInt = 'B'
	prefixDate   = 'd'
	prefixRegex  = 'r'
)

// RegexValue is the [source, flags] pair a $regex operand encodes to.
type RegexValue struct {
	Source string
	Flags  string
}

// Encode renders v as a prefixed wire string. Strings, []byte, big
// integers (decimal.Decimal), time.Time and RegexValue each carry their
// own prefix byte; everything else is left for the caller to marshal as
// JSON.
func Encode(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return string(prefixString) + t, nil
	case []byte:
		return string(prefixBinary) + base64.StdEncoding.EncodeToString(t), nil
	case decimal.Decimal:
		return string(prefixBigInt) + t.String(), nil
	case time.Time:
		return string(prefixDate) + t.UTC().Format(time.RFC3339Nano), nil
	case RegexValue:
		return fmt.Sprintf("%c[%q,%q]", prefixRegex, t.Source, t.Flags), nil
	default:
		return "", errors.Errorf("console: %T has no wire encoding; marshal as JSON instead", v)
	}
}

// Decode parses a wire string produced by Encode back to its typed Go
// value, dispatching on the leading prefix byte.
func Decode(s string) (interface{}, error) {
	if s == "" {
		return nil, nil
	}
	prefix, body := s[0], s[1:]
	switch prefix {
	case prefixString:
		return body, nil
	case prefixBinary:
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, errors.Wrap(err, "console: decoding binary value")
		}
		return b, nil
	case prefixBigInt:
		d, err := decimal.NewFromString(body)
		if err != nil {
			return nil, errors.Wrap(err, "console: decoding bigint value")
		}
		return d, nil
	case prefixDate:
		t, err := time.Parse(time.RFC3339Nano, body)
		if err != nil {
			return nil, errors.Wrap(err, "console: decoding date value")
		}
		return t, nil
	case prefixRegex:
		var pair [2]string
		if err := json.Unmarshal([]byte(body), &pair); err != nil {
			return nil, errors.Wrap(err, "console: decoding regex value")
		}
		return RegexValue{Source: pair[0], Flags: pair[1]}, nil
	default:
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, errors.Wrapf(err, "console: %q is neither a prefixed value nor valid JSON", s)
		}
		return v, nil
	}
}
