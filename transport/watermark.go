// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"sync"

	"github.com/juju/errors"

	"github.com/juju/mubsub/store"
)

// Watermark is the identifier of the last envelope a listener has
// processed. It only ever moves forward.
type Watermark struct {
	mu sync.Mutex
	id store.ID
}

// Get returns the current identifier, store.Zero before bootstrap.
func (w *Watermark) Get() store.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// Advance moves the watermark to id if id is after it, reporting
// whether it moved.
func (w *Watermark) Advance(id store.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !id.After(w.id) {
		return false
	}
	w.id = id
	return true
}

// newestID returns the greatest identifier in coll, or store.Zero if
// the collection is empty. The newest envelope in natural order is
// checked against anything with a greater identifier, since another
// writer may have inserted after the read.
func newestID(coll store.Collection) (store.ID, error) {
	newest, err := coll.FindNewest()
	if errors.Is(err, errors.NotFound) {
		return store.Zero, nil
	} else if err != nil {
		return store.Zero, errors.Trace(err)
	}

	id := newest.ID
	cursor := coll.FindAfter(id, store.FindOptions{})
	var env store.Envelope
	for cursor.Next(&env) {
		if env.ID.After(id) {
			id = env.ID
		}
	}
	if err := cursor.Close(); err != nil {
		return store.Zero, errors.Annotatef(err, "reading after newest envelope in %q", coll.Name())
	}
	return id, nil
}
