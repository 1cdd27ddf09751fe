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

package expr

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"

	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/types"
)

// opDef describes one non-leaf, non-aggregate operator: how many operands
// it accepts, its result-type rule, and how to evaluate it.
type opDef struct {
	arity    func(n int) bool
	typeRule func(args []sql.Expression) sql.Type
	eval     func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error)
}

func exactly(n int) func(int) bool { return func(got int) bool { return got == n } }
func between(lo, hi int) func(int) bool {
	return func(got int) bool { return got >= lo && got <= hi }
}
func atLeast(n int) func(int) bool { return func(got int) bool { return got >= n } }

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
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

func fold(vals []interface{}, zero float64, f func(a, b float64) float64) interface{} {
	acc := zero
	for i, v := range vals {
		n, ok := asFloat(v)
		if !ok {
			return nil
		}
		if i == 0 && zero == 0 {
			acc = n
			continue
		}
		acc = f(acc, n)
	}
	return acc
}

func compareValues(a, b interface{}) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
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
	return strings.Compare(as, bs)
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		return true
	}
}

func inSlice(needle interface{}, haystack interface{}) bool {
	arr, ok := haystack.([]interface{})
	if !ok {
		return false
	}
	for _, v := range arr {
		if compareValues(needle, v) == 0 {
			return true
		}
	}
	return false
}

var opDefs = map[string]opDef{
	"$if": {
		arity: exactly(3),
		typeRule: func(args []sql.Expression) sql.Type {
			return types.Join([]sql.Type{args[1].Type(), args[2].Type()}, nil)
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			if truthy(vals[0]) {
				return vals[1], nil
			}
			return vals[2], nil
		},
	},
	"$ifNull": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type {
			return args[0].Type()
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			if vals[0] != nil {
				return vals[0], nil
			}
			return vals[1], nil
		},
	},
	"$add": {
		arity: atLeast(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return fold(vals, 0, func(a, b float64) float64 { return a + b }), nil
		},
	},
	"$subtract": {
		arity: atLeast(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			if len(vals) == 1 {
				f, _ := asFloat(vals[0])
				return -f, nil
			}
			first, _ := asFloat(vals[0])
			acc := first
			for _, v := range vals[1:] {
				f, _ := asFloat(v)
				acc -= f
			}
			return acc, nil
		},
	},
	"$multiply": {
		arity: atLeast(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			acc := 1.0
			for _, v := range vals {
				f, _ := asFloat(v)
				acc *= f
			}
			return acc, nil
		},
	},
	"$divide": {
		arity: atLeast(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			first, _ := asFloat(vals[0])
			acc := first
			for _, v := range vals[1:] {
				f, _ := asFloat(v)
				if f == 0 {
					return nil, nil
				}
				acc /= f
			}
			return acc, nil
		},
	},
	"$modulo": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			a, _ := asFloat(vals[0])
			b, _ := asFloat(vals[1])
			if b == 0 {
				return nil, nil
			}
			return math.Mod(a, b), nil
		},
	},
	"$abs": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			return math.Abs(f), nil
		},
	},
	"$floor": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			return math.Floor(f), nil
		},
	},
	"$ceil": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			return math.Ceil(f), nil
		},
	},
	"$round": {
		arity: between(1, 2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			prec := 0.0
			if len(vals) == 2 {
				prec, _ = asFloat(vals[1])
			}
			mult := math.Pow(10, prec)
			return math.Round(f*mult) / mult, nil
		},
	},
	"$exp": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			return math.Exp(f), nil
		},
	},
	"$log": {
		arity: between(1, 2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, _ := asFloat(vals[0])
			if len(vals) == 2 {
				base, _ := asFloat(vals[1])
				return math.Log(f) / math.Log(base), nil
			}
			return math.Log(f), nil
		},
	},
	"$pow": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			a, _ := asFloat(vals[0])
			b, _ := asFloat(vals[1])
			return math.Pow(a, b), nil
		},
	},
	"$random": {
		arity: exactly(0),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return rand.Float64(), nil
		},
	},
	"$number": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type { return types.Number },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			f, ok := asFloat(vals[0])
			if !ok {
				return nil, nil
			}
			return f, nil
		},
	},
	"$eq": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) == 0, nil
		},
	},
	"$ne": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) != 0, nil
		},
	},
	"$gt": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) > 0, nil
		},
	},
	"$gte": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) >= 0, nil
		},
	},
	"$lt": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) < 0, nil
		},
	},
	"$lte": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return compareValues(vals[0], vals[1]) <= 0, nil
		},
	},
	"$in": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return inSlice(vals[0], vals[1]), nil
		},
	},
	"$nin": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return !inSlice(vals[0], vals[1]), nil
		},
	},
	"$concat": {
		arity: atLeast(0),
		typeRule: func(args []sql.Expression) sql.Type { return types.String },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			var b strings.Builder
			for _, v := range vals {
				fmt.Fprintf(&b, "%v", v)
			}
			return b.String(), nil
		},
	},
	"$regex": {
		arity: between(2, 3),
		typeRule: func(args []sql.Expression) sql.Type { return types.Boolean },
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			pattern, _ := vals[1].(string)
			if len(vals) == 3 {
				if flags, _ := vals[2].(string); strings.Contains(flags, "i") {
					pattern = "(?i)" + pattern
				}
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, kerr.UnsupportedExpression.New(fmt.Sprintf("invalid regex %q: %v", pattern, err))
			}
			return re.MatchString(fmt.Sprintf("%v", vals[0])), nil
		},
	},
	"$and": {
		arity: atLeast(0),
		typeRule: func(args []sql.Expression) sql.Type {
			ts := make([]sql.Type, len(args))
			for i, a := range args {
				ts[i] = a.Type()
			}
			return types.Join(ts, types.Boolean)
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			for _, v := range vals {
				if !truthy(v) {
					return false, nil
				}
			}
			return true, nil
		},
	},
	"$or": {
		arity: atLeast(0),
		typeRule: func(args []sql.Expression) sql.Type {
			ts := make([]sql.Type, len(args))
			for i, a := range args {
				ts[i] = a.Type()
			}
			return types.Join(ts, types.Boolean)
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			for _, v := range vals {
				if truthy(v) {
					return true, nil
				}
			}
			return false, nil
		},
	},
	"$xor": {
		arity: atLeast(0),
		typeRule: func(args []sql.Expression) sql.Type {
			ts := make([]sql.Type, len(args))
			for i, a := range args {
				ts[i] = a.Type()
			}
			return types.Join(ts, types.Boolean)
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			count := 0
			for _, v := range vals {
				if truthy(v) {
					count++
				}
			}
			return count%2 == 1, nil
		},
	},
	"$not": {
		arity: exactly(1),
		typeRule: func(args []sql.Expression) sql.Type {
			return types.Join([]sql.Type{args[0].Type()}, types.Boolean)
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			return !truthy(vals[0]), nil
		},
	},
	"$get": {
		arity: exactly(2),
		typeRule: func(args []sql.Expression) sql.Type {
			key := ""
			if l, ok := args[1].(literal); ok {
				key, _ = l.value.(string)
			}
			if inner := types.Inner(args[0].Type(), key); inner != nil {
				return inner
			}
			return types.Expr
		},
		eval: func(ctx *sql.EvalContext, vals []interface{}) (interface{}, error) {
			container := vals[0]
			key := fmt.Sprintf("%v", vals[1])
			switch c := container.(type) {
			case map[string]interface{}:
				return c[key], nil
			case []interface{}:
				for _, item := range c {
					if m, ok := item.(map[string]interface{}); ok {
						if v, ok := m[key]; ok {
							return v, nil
						}
					}
				}
				return nil, nil
			default:
				return nil, nil
			}
		},
	},
}

// op is the generic node for every operator in opDefs: arity-checked,
// n-ary children, evaluated by looking up its operator name in the
// registry.
type op struct {
	name     string
	children []sql.Expression
	typ      sql.Type
}

// New builds an operator node named name over children, validating arity
// against the operator table. Returns kerr.UnsupportedExpression for an
// unknown operator name and kerr.ModelMismatch for a bad arity.
func New(name string, children ...sql.Expression) (sql.Expression, error) {
	def, ok := opDefs[name]
	if !ok {
		return nil, kerr.UnsupportedExpression.New(name)
	}
	if !def.arity(len(children)) {
		return nil, kerr.ModelMismatch.New(fmt.Sprintf("%s: wrong number of operands (%d)", name, len(children)))
	}
	return op{name: name, children: children}, nil
}

func (o op) Op() string                 { return o.name }
func (o op) Children() []sql.Expression { return o.children }
func (o op) Type() sql.Type             { return o.typ }
func (o op) WithType(t sql.Type) sql.Expression {
	o.typ = t
	return o
}
func (o op) WithChildren(children []sql.Expression) (sql.Expression, error) {
	return New(o.name, children...)
}
func (o op) String() string {
	parts := make([]string, len(o.children))
	for i, c := range o.children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", o.name, strings.Join(parts, ", "))
}
func (o op) Eval(ctx *sql.EvalContext) (interface{}, error) {
	vals := make([]interface{}, len(o.children))
	for i, c := range o.children {
		v, err := c.Eval(ctx)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return opDefs[o.name].eval(ctx, vals)
}

// TypeRule returns the result-type rule for a built operator node,
// invoked by the retrieval pass once every child's type is cached.
func TypeRule(o sql.Expression) sql.Type {
	n, ok := o.(op)
	if !ok {
		return types.Expr
	}
	return opDefs[n.name].typeRule(n.children)
}
