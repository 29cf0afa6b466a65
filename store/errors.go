// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrCapabilityUnsupported may be matched by errors from implementations
// that know up front they cannot provide bounded collections or
// tailing cursors.
const ErrCapabilityUnsupported = errors.ConstError("capability unsupported")

// CommandError is a server side failure reported with a numeric code,
// such as an mgo QueryError.
type CommandError struct {
	Code    int
	Message string
}

// Error is part of the error interface.
func (e *CommandError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Unsupported wraps err so that it matches ErrCapabilityUnsupported.
func Unsupported(err error) error {
	if err == nil {
		return nil
	}
	return &unsupportedError{cause: err}
}

type unsupportedError struct {
	cause error
}

func (e *unsupportedError) Error() string {
	return e.cause.Error()
}

func (e *unsupportedError) Unwrap() error {
	return e.cause
}

func (e *unsupportedError) Is(target error) bool {
	return target == ErrCapabilityUnsupported
}
