// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fault defines the error taxonomy surfaced by the platform.
//
// Every error that crosses a component boundary is classified with a Kind so
// the HTTP layer can map it to a status code and run records can name the
// failure class. Wrap with fmt.Errorf("%w") as usual; KindOf walks the chain.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a platform error.
type Kind int

const (
	// Internal covers database failures, cloning failures, and anything
	// else unexpected. It is the zero value: unclassified errors are internal.
	Internal Kind = iota
	// NotFound indicates an unknown template, environment, test, suite, or run.
	NotFound
	// Unauthorized indicates the principal lacks rights on the target entity.
	Unauthorized
	// BadRequest indicates a malformed DSL spec, request body, or selector.
	BadRequest
	// Conflict indicates an ambiguous lookup, such as multiple templates
	// matching a non-qualified name or an unresolvable owner scope.
	Conflict
	// StateError indicates an illegal lifecycle transition: environment not
	// ready, run already terminal.
	StateError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case BadRequest:
		return "bad_request"
	case Conflict:
		return "conflict"
	case StateError:
		return "state_error"
	default:
		return "internal"
	}
}

// Error is a classified platform error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, &Error{Kind: NotFound}) holds
// for any not-found error. Sentinel helpers below are the usual callers.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// New creates a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in the chain,
// or Internal if none is found.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
