// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store defines the document store operations the mubsub
// transports are built from. Implementations live in the mgostore
// (MongoDB) and memstore (in-process) packages.
//
// The transports only sequence and interpret these primitives; how a
// collection is created, how a cursor waits for data and how an expiry
// index is maintained is up to the implementation.
package store

import (
	"encoding/hex"
	"time"
)

// Document field names shared by every implementation.
const (
	IDField         = "_id"
	EventField      = "event"
	PayloadField    = "payload"
	InsertedAtField = "insertedAt"
)

// ID identifies an envelope within a collection. IDs are assigned at
// insert time and are totally ordered: comparing two IDs as strings
// gives their insertion order.
type ID string

// Zero sorts before every ID assigned by a store. A watermark of Zero
// means "everything is new".
const Zero ID = ""

// IsZero reports whether id is the Zero sentinel.
func (id ID) IsZero() bool {
	return id == Zero
}

// After reports whether id sorts strictly after other.
func (id ID) After(other ID) bool {
	return id > other
}

// String returns the hex form of the ID.
func (id ID) String() string {
	if id.IsZero() {
		return "<zero>"
	}
	return hex.EncodeToString([]byte(id))
}

// Envelope is the unit of transport. An envelope without an event name
// is an anchor: it exists only to give a tailing cursor something to
// follow.
type Envelope struct {
	ID         ID
	Event      string
	Payload    interface{}
	InsertedAt time.Time
}

// IsAnchor reports whether the envelope carries no event name.
func (e Envelope) IsAnchor() bool {
	return e.Event == ""
}

// CollectionOptions describe how a collection is created.
type CollectionOptions struct {
	// Bounded requests a size capped, natural ordered collection that
	// supports tailing cursors.
	Bounded bool

	// MaxBytes is the capacity of a bounded collection.
	MaxBytes int64

	// MaxDocs optionally limits the number of documents in a bounded
	// collection. Zero means no limit.
	MaxDocs int64
}

// FindOptions control how FindAfter iterates.
type FindOptions struct {
	// Tailable keeps the cursor open at the end of the collection,
	// waiting up to Timeout for new envelopes before Next returns
	// false with Timeout() reporting true.
	Tailable bool

	// Timeout bounds each wait of a tailable cursor.
	Timeout time.Duration
}

// Database creates and opens collections.
type Database interface {
	// CreateCollection creates the named collection. It returns an
	// error satisfying errors.Is(err, errors.AlreadyExists) if the
	// collection is already present.
	CreateCollection(name string, opts CollectionOptions) (Collection, error)

	// OpenCollection returns a handle on an existing collection.
	OpenCollection(name string) (Collection, error)
}

// Collection is a handle on a single named collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// IsBounded reports whether the collection is a bounded (capped)
	// collection.
	IsBounded() (bool, error)

	// InsertOne inserts the envelope, ignoring any ID it carries, and
	// returns the ID the store assigned to it.
	InsertOne(env Envelope) (ID, error)

	// FindNewest returns the last envelope in reverse natural order.
	// It returns an error satisfying errors.Is(err, errors.NotFound)
	// when the collection is empty.
	FindNewest() (Envelope, error)

	// FindAfter returns a cursor over the envelopes whose ID is
	// strictly greater than after, in ascending order. Passing Zero
	// selects every envelope.
	FindAfter(after ID, opts FindOptions) Cursor

	// EnsureExpiryIndex ensures an index called name exists on field,
	// expiring documents expireAfter past the field's time value.
	EnsureExpiryIndex(field string, expireAfter time.Duration, name string) error
}

// Cursor iterates over envelopes, in the manner of an mgo iterator.
type Cursor interface {
	// Next decodes the next envelope into env, reporting false when
	// no envelope is available.
	Next(env *Envelope) bool

	// Timeout reports whether the last call to Next returned false
	// because a tailable cursor waited without seeing new data.
	Timeout() bool

	// Err returns any error encountered while iterating.
	Err() error

	// Close releases the cursor, returning Err.
	Close() error
}
