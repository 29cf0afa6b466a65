// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"github.com/juju/errors"
)

const (
	// ErrNotBounded is reported when the bounded transport is required
	// but the collection already exists as a plain collection.
	ErrNotBounded = errors.ConstError("collection is not bounded")

	// ErrBrokenCursor is reported when a tailing cursor ends with
	// neither data nor a timeout.
	ErrBrokenCursor = errors.ConstError("broken cursor")

	// ErrTransientFetch is reported when a poll fails. Polling carries
	// on at the next tick.
	ErrTransientFetch = errors.ConstError("fetch failed")

	// ErrRetention is reported when the expiry index could not be
	// ensured.
	ErrRetention = errors.ConstError("retention not established")
)

// fault is an error of one of the kinds above, with its own message
// and an optional cause.
type fault struct {
	kind    errors.ConstError
	message string
	cause   error
}

func newFault(kind errors.ConstError, message string, cause error) error {
	return &fault{kind: kind, message: message, cause: cause}
}

// Error is part of the error interface.
func (f *fault) Error() string {
	if f.cause == nil {
		return f.message
	}
	return f.message + ": " + f.cause.Error()
}

// Is allows errors.Is to match the fault's kind.
func (f *fault) Is(target error) bool {
	kind, ok := target.(errors.ConstError)
	return ok && kind == f.kind
}

// Unwrap returns the cause.
func (f *fault) Unwrap() error {
	return f.cause
}

// FaultKind names the kind of a reported fault, for logging and
// metrics.
func FaultKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotBounded):
		return "not-bounded"
	case errors.Is(err, ErrBrokenCursor):
		return "broken-cursor"
	case errors.Is(err, ErrTransientFetch):
		return "transient-fetch"
	case errors.Is(err, ErrRetention):
		return "retention"
	}
	return "other"
}
