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
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quarkdb/quark/driver"
	"github.com/quarkdb/quark/kerr"
	"github.com/quarkdb/quark/sql"
	"github.com/quarkdb/quark/sql/expr"
	"github.com/quarkdb/quark/sql/filter"
	"github.com/quarkdb/quark/sql/selection"
)

// Action names the verb a Request carries, mirroring the public API
// dispatch table one level below transaction control.
type Action string

const (
	ActionCreate           Action = "create"
	ActionEval             Action = "eval"
	ActionGet              Action = "get"
	ActionRemove           Action = "remove"
	ActionSet              Action = "set"
	ActionUpsert           Action = "upsert"
	ActionDrop             Action = "drop"
	ActionDropAll          Action = "dropAll"
	ActionStats            Action = "stats"
	ActionCreateIndex      Action = "createIndex"
	ActionDropIndex        Action = "dropIndex"
	ActionGetIndexes       Action = "getIndexes"
	ActionTransactionBegin Action = "transaction/begin"
	ActionTransactionEnd   Action = "transaction/commit"
	ActionTransactionAbort Action = "transaction/rollback"
)

// Request is one dispatch call: an action, the session it runs under (0
// outside any transaction), the target table, and the action's
// arguments as wire-encoded strings (see Encode/Decode) or raw JSON,
// caller's choice per field.
type Request struct {
	Action    Action
	SessionID uint64
	Table     string
	Args      json.RawMessage
}

// Response is the dispatch result: exactly one of Value or Err is set.
type Response struct {
	Value interface{}
	Err   error
}

// txn holds the plumbing for one in-flight session transaction: Server
// runs driver.WithTransaction in its own goroutine, blocking the
// callback on done until a commit or rollback request arrives.
type txn struct {
	ctx    context.Context
	done   chan error // caller sends nil to commit, non-nil to roll back
	result chan error // WithTransaction's own return value
}

// Server dispatches wire Requests against a driver.Registry, tracking
// one open transaction per session id.
type Server struct {
	registry *driver.Registry
	sessions driver.SessionManager
	log      *logrus.Entry

	mu   sync.Mutex
	txns map[uint64]*txn
}

// NewServer returns a Server dispatching against registry.
func NewServer(registry *driver.Registry) *Server {
	return &Server{
		registry: registry,
		txns:     map[uint64]*txn{},
		log:      logrus.WithField("component", "console"),
	}
}

// NextSessionID hands out a fresh session id for a client to open a
// transaction against.
func (s *Server) NextSessionID() uint64 { return s.sessions.NextSessionID() }

// Dispatch runs one Request to completion and returns its Response.
// Transaction-control actions never touch a driver directly; every
// other action runs against the session's open transaction context if
// one exists, or ctx otherwise.
func (s *Server) Dispatch(ctx context.Context, driverName string, req Request) Response {
	switch req.Action {
	case ActionTransactionBegin:
		return s.begin(ctx, driverName, req.SessionID)
	case ActionTransactionEnd:
		return s.end(req.SessionID, nil)
	case ActionTransactionAbort:
		return s.end(req.SessionID, errors.New("console: client requested rollback"))
	}

	d, ok := s.registry.Get(driverName)
	if !ok {
		return Response{Err: kerr.DriverUnavailable.New(driverName)}
	}

	runCtx := ctx
	if t := s.activeTxn(req.SessionID); t != nil {
		runCtx = t.ctx
	}

	v, err := s.dispatchOne(runCtx, d, req)
	return Response{Value: v, Err: err}
}

func (s *Server) activeTxn(sessionID uint64) *txn {
	if sessionID == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns[sessionID]
}

func (s *Server) begin(ctx context.Context, driverName string, sessionID uint64) Response {
	d, ok := s.registry.Get(driverName)
	if !ok {
		return Response{Err: kerr.DriverUnavailable.New(driverName)}
	}

	s.mu.Lock()
	if _, exists := s.txns[sessionID]; exists {
		s.mu.Unlock()
		return Response{Err: errors.Errorf("console: session %d already has an open transaction", sessionID)}
	}
	t := &txn{done: make(chan error, 1), result: make(chan error, 1)}
	s.txns[sessionID] = t
	s.mu.Unlock()

	go func() {
		t.result <- d.WithTransaction(ctx, func(fnCtx context.Context) error {
			t.ctx = fnCtx
			return <-t.done
		})
	}()

	return Response{}
}

func (s *Server) end(sessionID uint64, rollbackCause error) Response {
	s.mu.Lock()
	t, ok := s.txns[sessionID]
	if ok {
		delete(s.txns, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return Response{Err: errors.Errorf("console: session %d has no open transaction", sessionID)}
	}
	t.done <- rollbackCause
	return Response{Err: <-t.result}
}

// getArgs/setArgs/etc are the plain-data shapes a remote client sends:
// an equality-map filter (every key matched with $eq) and literal row
// values. A client wanting a richer filter or a computed update builds
// the Selection in-process against the bound driver directly; the wire
// bridge only needs to move already-resolved request shapes across a
// process boundary, per the documented action list.
type getArgs struct {
	Filter map[string]interface{} `json:"filter"`
	Fields []string               `json:"fields"`
}

type setArgs struct {
	Filter  map[string]interface{} `json:"filter"`
	Updates map[string]interface{} `json:"updates"`
}

type removeArgs struct {
	Filter map[string]interface{} `json:"filter"`
}

type createArgs struct {
	Row map[string]interface{} `json:"row"`
}

type upsertArgs struct {
	Rows []map[string]interface{} `json:"rows"`
	Keys []string                 `json:"keys"`
}

func equalityFilter(m map[string]interface{}) filter.Query {
	q := filter.Query{}
	for k, v := range m {
		q.Matchers = append(q.Matchers, filter.FieldMatcher{Path: []string{k}, Kind: filter.Eq, Value: v})
	}
	return q
}

func literalUpdates(m map[string]interface{}) map[string]sql.Expression {
	out := make(map[string]sql.Expression, len(m))
	for k, v := range m {
		out[k] = expr.Literal(v)
	}
	return out
}

func (s *Server) dispatchOne(ctx context.Context, d driver.Driver, req Request) (interface{}, error) {
	ec := &sql.EvalContext{Context: ctx}

	switch req.Action {
	case ActionGet:
		var a getArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding get args")
		}
		sel := selection.From(req.Table, req.Table).Where(equalityFilter(a.Filter)).Project(a.Fields...)
		return d.Get(ec, &sel)
	case ActionEval:
		var a getArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding eval args")
		}
		if len(a.Fields) != 1 {
			return nil, errors.New("console: eval requires exactly one field expression")
		}
		sel := selection.From(req.Table, req.Table).Where(equalityFilter(a.Filter)).
			AsEval(expr.Ref(req.Table, []string{a.Fields[0]}))
		return d.Eval(ec, &sel)
	case ActionSet:
		var a setArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding set args")
		}
		sel := selection.From(req.Table, req.Table).Where(equalityFilter(a.Filter)).
			AsSet(literalUpdates(a.Updates))
		return d.Set(ec, &sel)
	case ActionRemove:
		var a removeArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding remove args")
		}
		sel := selection.From(req.Table, req.Table).Where(equalityFilter(a.Filter)).AsRemove()
		return d.Remove(ec, &sel)
	case ActionCreate:
		var a createArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding create args")
		}
		sel := selection.From(req.Table, req.Table).AsCreate(a.Row)
		return d.Create(ec, &sel)
	case ActionUpsert:
		var a upsertArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, errors.Wrap(err, "console: decoding upsert args")
		}
		sel := selection.From(req.Table, req.Table).AsUpsert(a.Rows, a.Keys)
		return d.Upsert(ec, &sel)
	case ActionDrop:
		return nil, d.Drop(ctx, req.Table)
	case ActionDropAll:
		return nil, d.DropAll(ctx)
	case ActionStats:
		return d.Stats(ctx)
	case ActionCreateIndex:
		var args struct {
			Fields []string `json:"fields"`
			Unique bool     `json:"unique"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, errors.Wrap(err, "console: decoding createIndex args")
		}
		return nil, d.CreateIndex(ctx, req.Table, args.Fields, args.Unique)
	case ActionDropIndex:
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, errors.Wrap(err, "console: decoding dropIndex args")
		}
		return nil, d.DropIndex(ctx, req.Table, args.Name)
	case ActionGetIndexes:
		return d.GetIndexes(ctx, req.Table)
	default:
		return nil, errors.Errorf("console: unknown action %q", req.Action)
	}
}
