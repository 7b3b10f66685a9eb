// Copyright 2025 Sybl Developers
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package derrors defines the error taxonomy used across the distributed
// compute layer. Every error which crosses a component boundary is wrapped
// into an *Error carrying one of the kinds below, so callers can decide
// between evicting a worker, closing a session or retrying a store call
// without string matching.
package derrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// Stream - an I/O failure on a worker connection, terminal for the session
	Stream Kind = iota

	// Protocol - an unexpected message or a malformed frame, terminal for
	// the session and a reason to evict the worker
	Protocol

	// Upstream - an HTTP transport failure while contacting the management plane
	Upstream

	// Rejected - the management plane answered with a non-2xx status
	Rejected

	// StoreUnavailable - the document store could not serve a request
	StoreUnavailable

	// Unprocessable - a job descriptor or its dataset failed admission
	// validation and can never run
	Unprocessable

	// Timeout - a worker failed to answer within its window; never surfaced
	// to the worker, it only feeds the missed-heartbeats counter
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Protocol:
		return "protocol"
	case Upstream:
		return "upstream"
	case Rejected:
		return "rejected"
	case StoreUnavailable:
		return "storeUnavailable"
	case Unprocessable:
		return "unprocessable"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// -----

type Error struct {
	Kind Kind

	// Code is an HTTP-ish status attached to the error when it is
	// reported back to a worker as an envelope.
	Code int

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Envelope is the JSON shape written to a worker socket right
// before it is closed due to an error.
type Envelope struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

func (e *Error) Envelope() Envelope {
	code := e.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return Envelope{Code: code, Text: e.Err.Error()}
}

// -----

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, tpl string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(tpl, args...)}
}

func WithCode(kind Kind, code int, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// KindOf extracts the taxonomy kind out of a (possibly wrapped) error.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsKind tests whether err carries the provided kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
