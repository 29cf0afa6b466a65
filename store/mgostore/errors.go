// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mgostore

import (
	"strings"

	"github.com/juju/mgo/v3"

	"github.com/juju/mubsub/store"
)

// MongoDB server error codes this package interprets.
const (
	codeNamespaceNotFound    = 26
	codeNamespaceExists      = 48
	codeIndexOptionsConflict = 85
	codeIndexKeySpecConflict = 86
)

func errorCode(err error) (int, string, bool) {
	switch e := err.(type) {
	case *mgo.QueryError:
		return e.Code, e.Message, true
	case *mgo.LastError:
		return e.Code, e.Err, true
	}
	return 0, "", false
}

func isAlreadyExists(err error) bool {
	code, msg, ok := errorCode(err)
	if !ok {
		return false
	}
	return code == codeNamespaceExists || strings.Contains(msg, "already exists")
}

func isNamespaceNotFound(err error) bool {
	code, msg, ok := errorCode(err)
	if !ok {
		return false
	}
	return code == codeNamespaceNotFound || strings.Contains(msg, "ns not found")
}

func isIndexConflict(err error) bool {
	code, _, ok := errorCode(err)
	return ok && (code == codeIndexOptionsConflict || code == codeIndexKeySpecConflict)
}

// translate converts server errors to store.CommandError so callers can
// classify them without knowing about mgo. Other errors are returned
// unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if code, msg, ok := errorCode(err); ok {
		return &store.CommandError{Code: code, Message: msg}
	}
	return err
}
