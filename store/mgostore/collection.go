// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mgostore

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/juju/mubsub/store"
)

// envelopeDoc is the persisted form of a store.Envelope.
type envelopeDoc struct {
	Id         bson.ObjectId `bson:"_id"`
	Event      string        `bson:"event,omitempty"`
	Payload    interface{}   `bson:"payload,omitempty"`
	InsertedAt time.Time     `bson:"insertedAt"`
}

func (doc envelopeDoc) envelope() store.Envelope {
	return store.Envelope{
		ID:         store.ID(doc.Id),
		Event:      doc.Event,
		Payload:    doc.Payload,
		InsertedAt: doc.InsertedAt,
	}
}

// Collection is a store.Collection backed by a MongoDB collection.
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
	return c.db.isCapped(c.name)
}

// InsertOne is part of the store.Collection interface. The ObjectId is
// generated here so the caller learns it without a second round trip.
func (c *Collection) InsertOne(env store.Envelope) (store.ID, error) {
	session, mdb := c.db.copySession()
	defer session.Close()

	doc := envelopeDoc{
		Id:         bson.NewObjectId(),
		Event:      env.Event,
		Payload:    env.Payload,
		InsertedAt: env.InsertedAt,
	}
	if doc.InsertedAt.IsZero() {
		doc.InsertedAt = time.Now()
	}
	if err := mdb.C(c.name).Insert(doc); err != nil {
		return store.Zero, errors.Annotatef(translate(err), "inserting into %q", c.name)
	}
	return store.ID(doc.Id), nil
}

// FindNewest is part of the store.Collection interface.
func (c *Collection) FindNewest() (store.Envelope, error) {
	session, mdb := c.db.copySession()
	defer session.Close()

	var doc envelopeDoc
	err := mdb.C(c.name).Find(nil).Sort("-$natural").One(&doc)
	if err == mgo.ErrNotFound {
		return store.Envelope{}, errors.NotFoundf("newest envelope in %q", c.name)
	} else if err != nil {
		return store.Envelope{}, errors.Annotatef(translate(err), "reading newest envelope in %q", c.name)
	}
	return doc.envelope(), nil
}

// afterQuery selects documents with an _id greater than after.
func afterQuery(after store.ID) bson.M {
	if after.IsZero() {
		return bson.M{}
	}
	return bson.M{store.IDField: bson.M{"$gt": bson.ObjectId(after)}}
}

// FindAfter is part of the store.Collection interface. Tailable
// cursors follow natural order, as required by the server; finite
// cursors sort on _id.
//
// ObjectIds are generated by each inserting client, so IDs from
// different processes are ordered only to the second of their clocks.
// A finite cursor after a watermark can miss an envelope inserted later
// by a process whose clock lags, when its ID sorts at or before the
// watermark.
func (c *Collection) FindAfter(after store.ID, opts store.FindOptions) store.Cursor {
	session, mdb := c.db.copySession()
	query := mdb.C(c.name).Find(afterQuery(after))

	var iter *mgo.Iter
	if opts.Tailable {
		iter = query.Sort("$natural").Tail(opts.Timeout)
	} else {
		iter = query.Sort(store.IDField).Iter()
	}
	return &cursor{session: session, iter: iter}
}

// EnsureExpiryIndex is part of the store.Collection interface. If the
// index exists with another expiry, the expiry is changed in place with
// collMod rather than dropping and rebuilding the index.
func (c *Collection) EnsureExpiryIndex(field string, expireAfter time.Duration, name string) error {
	session, mdb := c.db.copySession()
	defer session.Close()

	err := mdb.C(c.name).EnsureIndex(mgo.Index{
		Key:         []string{field},
		Name:        name,
		ExpireAfter: expireAfter,
		Background:  true,
	})
	if err == nil {
		return nil
	}
	if !isIndexConflict(err) {
		return errors.Annotatef(translate(err), "creating index %q on %q", name, c.name)
	}

	cmd := bson.D{
		{Name: "collMod", Value: c.name},
		{Name: "index", Value: bson.M{
			"name":               name,
			"expireAfterSeconds": int64(expireAfter / time.Second),
		}},
	}
	if err := mdb.Run(cmd, nil); err != nil {
		return errors.Annotatef(translate(err), "updating index %q on %q", name, c.name)
	}
	return nil
}

// cursor adapts an mgo iterator, owning the session it runs on.
type cursor struct {
	session *mgo.Session
	iter    *mgo.Iter
	closed  bool
}

// Next is part of the store.Cursor interface.
func (c *cursor) Next(env *store.Envelope) bool {
	var doc envelopeDoc
	if !c.iter.Next(&doc) {
		return false
	}
	*env = doc.envelope()
	return true
}

// Timeout is part of the store.Cursor interface.
func (c *cursor) Timeout() bool {
	return c.iter.Timeout()
}

// Err is part of the store.Cursor interface.
func (c *cursor) Err() error {
	return translate(c.iter.Err())
}

// Close is part of the store.Cursor interface.
func (c *cursor) Close() error {
	if c.closed {
		return c.Err()
	}
	c.closed = true
	err := c.iter.Close()
	c.session.Close()
	return translate(err)
}
