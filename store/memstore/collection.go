// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"time"

	"github.com/juju/errors"

	"github.com/juju/mubsub/store"
)

// Collection is a handle on a named collection. Like an mgo collection
// it resolves the name on every operation, so it keeps working after
// the collection is dropped and recreated.
type Collection struct {
	db   *Database
	name string
}

var _ store.Collection = (*Collection)(nil)

// Name is part of the store.Collection interface.
func (c *Collection) Name() string {
	return c.name
}

// IsBounded is part of the store.Collection interface.
func (c *Collection) IsBounded() (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	coll, ok := c.db.collections[c.name]
	if !ok {
		return false, errors.NotFoundf("collection %q", c.name)
	}
	return coll.bounded, nil
}

// InsertOne is part of the store.Collection interface.
func (c *Collection) InsertOne(env store.Envelope) (store.ID, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := popFault(c.db.insertFaults, c.name); err != nil {
		return store.Zero, err
	}
	env.ID = c.db.nextID()
	if env.InsertedAt.IsZero() {
		env.InsertedAt = c.db.clock.Now()
	}
	c.db.ensure(c.name).insert(env)
	return env.ID, nil
}

// FindNewest is part of the store.Collection interface.
func (c *Collection) FindNewest() (store.Envelope, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	coll, ok := c.db.collections[c.name]
	if ok {
		coll.expire(c.db.clock.Now())
	}
	if !ok || len(coll.docs) == 0 {
		return store.Envelope{}, errors.NotFoundf("newest envelope in %q", c.name)
	}
	return coll.docs[len(coll.docs)-1].env, nil
}

// FindAfter is part of the store.Collection interface.
func (c *Collection) FindAfter(after store.ID, opts store.FindOptions) store.Cursor {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	cur := &cursor{
		db:       c.db,
		name:     c.name,
		last:     after,
		tailable: opts.Tailable,
		timeout:  opts.Timeout,
	}
	if err := popFault(c.db.findFaults, c.name); err != nil {
		cur.err = err
		return cur
	}

	coll, ok := c.db.collections[c.name]
	if !opts.Tailable {
		if ok {
			coll.expire(c.db.clock.Now())
			for _, d := range coll.docs {
				if d.env.ID.After(after) {
					cur.pending = append(cur.pending, d.env)
				}
			}
		}
		return cur
	}

	switch {
	case !ok || len(coll.docs) == 0:
		// A tailing cursor on an empty capped collection is dead as
		// soon as it is opened.
		cur.dead = true
	case !coll.bounded:
		cur.err = &store.CommandError{Code: 2, Message: nonCappedTailMessage}
	default:
		cur.coll = coll
	}
	return cur
}

// EnsureExpiryIndex is part of the store.Collection interface. An
// existing index with the same name has its expiry updated in place.
func (c *Collection) EnsureExpiryIndex(field string, expireAfter time.Duration, name string) error {
	if expireAfter <= 0 {
		return errors.NotValidf("expiry %v", expireAfter)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	coll := c.db.ensure(c.name)
	if existing, ok := coll.indexes[name]; ok && existing.field != field {
		return &store.CommandError{
			Code:    86,
			Message: "index " + name + " already exists with different key",
		}
	}
	coll.indexes[name] = expiryIndex{field: field, expireAfter: expireAfter}
	return nil
}

type cursor struct {
	db       *Database
	name     string
	coll     *collection
	last     store.ID
	tailable bool
	timeout  time.Duration

	pending  []store.Envelope
	err      error
	dead     bool
	timedOut bool
	closed   bool
}

// Next is part of the store.Cursor interface.
func (c *cursor) Next(env *store.Envelope) bool {
	c.timedOut = false
	if !c.tailable {
		if c.closed || c.err != nil || len(c.pending) == 0 {
			return false
		}
		*env = c.pending[0]
		c.pending = c.pending[1:]
		return true
	}

	for {
		c.db.mu.Lock()
		if c.closed || c.err != nil || c.dead {
			c.db.mu.Unlock()
			return false
		}
		if c.coll.dropped || c.db.collections[c.name] != c.coll {
			c.dead = true
			c.db.mu.Unlock()
			return false
		}
		if next, ok := c.coll.after(c.last); ok {
			c.last = next.ID
			c.db.mu.Unlock()
			*env = next
			return true
		}
		changed := c.coll.changed
		c.db.mu.Unlock()

		select {
		case <-changed:
		case <-c.db.clock.After(c.timeout):
			c.timedOut = true
			return false
		}
	}
}

// Timeout is part of the store.Cursor interface.
func (c *cursor) Timeout() bool {
	return c.timedOut
}

// Err is part of the store.Cursor interface.
func (c *cursor) Err() error {
	return c.err
}

// Close is part of the store.Cursor interface.
func (c *cursor) Close() error {
	c.db.mu.Lock()
	c.closed = true
	c.db.mu.Unlock()
	return c.err
}
