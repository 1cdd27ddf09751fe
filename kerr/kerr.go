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

// Package kerr defines the typed error taxonomy used across the query
// engine. Each Kind is a distinguishable error class that callers test for
// with Is, built on gopkg.in/src-d/go-errors.v1's Kind/New pattern
// (kind.New(args...) produces a *errors.Error that kind.Is recognises).
package kerr

import (
	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Kinds of errors raised by the core.
var (
	// DuplicateEntry is raised when a create/upsert violates a primary or
	// unique constraint.
	DuplicateEntry = goerrors.NewKind("duplicate entry: %s")

	// UnsupportedExpression is raised when an expression cannot be
	// lowered by the current driver.
	UnsupportedExpression = goerrors.NewKind("unsupported expression: %s")

	// ModelMismatch is raised when a query targets a field absent from
	// the model, or otherwise disagrees with the declared schema.
	ModelMismatch = goerrors.NewKind("model mismatch: %s")

	// DriverUnavailable is raised when no driver is bound at dispatch
	// time.
	DriverUnavailable = goerrors.NewKind("driver unavailable: %s")

	// BackendError reports a driver I/O error. Call sites pass the
	// cause's message text as the argument; the original error value and
	// its stack are not kept.
	BackendError = goerrors.NewKind("backend error: %s")
)

// Is reports whether err was produced by kind.New. It delegates to
// kind.Is, which inspects err itself and does not unwrap a cause chain.
func Is(kind *goerrors.Kind, err error) bool {
	return kind.Is(err)
}
