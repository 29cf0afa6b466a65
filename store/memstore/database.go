// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memstore is an in-process implementation of the store
// contract. It mimics the MongoDB behaviour the transports depend on:
// capped collections evict their oldest documents, tailing cursors die
// on an empty capped collection or when the collection is dropped, and
// inserting into a missing collection creates a plain one.
package memstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/mubsub/store"
)

const (
	// unsupportedCappedMessage is what servers without capped
	// collection support (e.g. some document database emulations)
	// report when asked to create one.
	unsupportedCappedMessage = "capped collections are not supported"

	nonCappedTailMessage = "error processing query: tailable cursor requested on non capped collection"

	// docOverhead approximates the fixed per document cost used for
	// capped size accounting.
	docOverhead = 32
)

// Options configure a Database.
type Options struct {
	// NoBounded makes bounded collection creation fail, as it does on
	// servers without capped collection support.
	NoBounded bool

	// Clock is used for tailing waits and TTL expiry. It defaults to
	// the wall clock.
	Clock clock.Clock
}

// Database is an in-memory store.Database.
type Database struct {
	clock     clock.Clock
	noBounded bool

	mu           sync.Mutex
	seq          uint64
	collections  map[string]*collection
	findFaults   map[string][]error
	insertFaults map[string][]error
}

var _ store.Database = (*Database)(nil)

// NewDatabase returns an empty Database.
func NewDatabase(opts Options) *Database {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Database{
		clock:        clk,
		noBounded:    opts.NoBounded,
		collections:  make(map[string]*collection),
		findFaults:   make(map[string][]error),
		insertFaults: make(map[string][]error),
	}
}

// CreateCollection is part of the store.Database interface.
func (db *Database) CreateCollection(name string, opts store.CollectionOptions) (store.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.collections[name]; ok {
		return nil, errors.AlreadyExistsf("collection %q", name)
	}
	if opts.Bounded {
		if db.noBounded {
			return nil, &store.CommandError{Code: 0, Message: unsupportedCappedMessage}
		}
		if opts.MaxBytes <= 0 {
			return nil, &store.CommandError{Code: 72, Message: "capped collections need a positive size"}
		}
	}
	db.collections[name] = newCollection(name, opts)
	return &Collection{db: db, name: name}, nil
}

// OpenCollection is part of the store.Database interface. As with
// MongoDB, a handle may be opened on a collection that does not exist
// yet.
func (db *Database) OpenCollection(name string) (store.Collection, error) {
	return &Collection{db: db, name: name}, nil
}

// Drop removes the named collection, killing any cursors tailing it.
func (db *Database) Drop(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		return errors.NotFoundf("collection %q", name)
	}
	delete(db.collections, name)
	coll.dropped = true
	close(coll.changed)
	return nil
}

// FailFinds queues errors returned, one per call, by the next cursors
// opened on the named collection.
func (db *Database) FailFinds(name string, errs ...error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.findFaults[name] = append(db.findFaults[name], errs...)
}

// FailInserts queues errors returned, one per call, by the next inserts
// into the named collection.
func (db *Database) FailInserts(name string, errs ...error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.insertFaults[name] = append(db.insertFaults[name], errs...)
}

// Indexes returns the expiry indexes of the named collection, keyed by
// index name.
func (db *Database) Indexes(name string) map[string]time.Duration {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make(map[string]time.Duration)
	if coll, ok := db.collections[name]; ok {
		for indexName, idx := range coll.indexes {
			result[indexName] = idx.expireAfter
		}
	}
	return result
}

// Envelopes returns the documents of the named collection in natural
// order.
func (db *Database) Envelopes(name string) []store.Envelope {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		return nil
	}
	result := make([]store.Envelope, len(coll.docs))
	for i, d := range coll.docs {
		result[i] = d.env
	}
	return result
}

// IsBounded reports whether the named collection exists and is bounded.
func (db *Database) IsBounded(name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	coll, ok := db.collections[name]
	return ok && coll.bounded
}

// nextID must be called with db.mu held.
func (db *Database) nextID() store.ID {
	db.seq++
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], db.seq)
	return store.ID(b[:])
}

// popFault must be called with db.mu held.
func popFault(faults map[string][]error, name string) error {
	queue := faults[name]
	if len(queue) == 0 {
		return nil
	}
	faults[name] = queue[1:]
	return queue[0]
}

// ensure returns the named collection, creating a plain one if needed.
// It must be called with db.mu held.
func (db *Database) ensure(name string) *collection {
	coll, ok := db.collections[name]
	if !ok {
		coll = newCollection(name, store.CollectionOptions{})
		db.collections[name] = coll
	}
	return coll
}

type doc struct {
	env  store.Envelope
	size int64
}

type expiryIndex struct {
	field       string
	expireAfter time.Duration
}

type collection struct {
	name     string
	bounded  bool
	maxBytes int64
	maxDocs  int64

	docs    []doc
	size    int64
	indexes map[string]expiryIndex

	// changed is closed and replaced on every insert, and closed when
	// the collection is dropped.
	changed chan struct{}
	dropped bool
}

func newCollection(name string, opts store.CollectionOptions) *collection {
	return &collection{
		name:     name,
		bounded:  opts.Bounded,
		maxBytes: opts.MaxBytes,
		maxDocs:  opts.MaxDocs,
		indexes:  make(map[string]expiryIndex),
		changed:  make(chan struct{}),
	}
}

func (c *collection) insert(env store.Envelope) {
	size := int64(docOverhead + len(env.Event) + len(fmt.Sprint(env.Payload)))
	c.docs = append(c.docs, doc{env: env, size: size})
	c.size += size
	if c.bounded {
		c.evict()
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// evict drops the oldest documents until the collection fits, always
// keeping the newest one.
func (c *collection) evict() {
	for len(c.docs) > 1 {
		overDocs := c.maxDocs > 0 && int64(len(c.docs)) > c.maxDocs
		overBytes := c.size > c.maxBytes
		if !overDocs && !overBytes {
			return
		}
		c.size -= c.docs[0].size
		c.docs = c.docs[1:]
	}
}

// expire applies any expiry index on the insertion time to a plain
// collection.
func (c *collection) expire(now time.Time) {
	if c.bounded {
		return
	}
	for _, idx := range c.indexes {
		if idx.field != store.InsertedAtField {
			continue
		}
		kept := c.docs[:0]
		for _, d := range c.docs {
			if d.env.InsertedAt.Add(idx.expireAfter).After(now) {
				kept = append(kept, d)
				continue
			}
			c.size -= d.size
		}
		c.docs = kept
	}
}

// after returns the first document whose ID is greater than id.
func (c *collection) after(id store.ID) (store.Envelope, bool) {
	i := sort.Search(len(c.docs), func(i int) bool {
		return c.docs[i].env.ID.After(id)
	})
	if i == len(c.docs) {
		return store.Envelope{}, false
	}
	return c.docs[i].env, true
}
