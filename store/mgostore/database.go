// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mgostore implements the store contract on MongoDB. Bounded
// collections are capped collections, tailing uses tailable cursors
// and retention uses TTL indexes.
package mgostore

import (
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/juju/mubsub/store"
)

// Database is a store.Database backed by a MongoDB database. Every
// operation runs on a copy of the root session so that a blocked
// tailing cursor never holds up a publish.
type Database struct {
	session *mgo.Session
	name    string
}

var _ store.Database = (*Database)(nil)

// NewDatabase returns a Database using the named database through
// session. The caller keeps ownership of session; Close only closes
// the copy taken here.
func NewDatabase(session *mgo.Session, name string) *Database {
	return &Database{
		session: session.Copy(),
		name:    name,
	}
}

// Close releases the session.
func (db *Database) Close() {
	db.session.Close()
}

// copySession returns a fresh session and the named database on it.
// The session must be closed by the caller.
func (db *Database) copySession() (*mgo.Session, *mgo.Database) {
	session := db.session.Copy()
	if session.Ping() != nil {
		session.Refresh()
	}
	return session, session.DB(db.name)
}

// CreateCollection is part of the store.Database interface.
func (db *Database) CreateCollection(name string, opts store.CollectionOptions) (store.Collection, error) {
	session, mdb := db.copySession()
	defer session.Close()

	info := &mgo.CollectionInfo{}
	if opts.Bounded {
		info.Capped = true
		info.MaxBytes = int(opts.MaxBytes)
		info.MaxDocs = int(opts.MaxDocs)
	}
	if err := mdb.C(name).Create(info); err != nil {
		if isAlreadyExists(err) {
			return nil, errors.AlreadyExistsf("collection %q", name)
		}
		return nil, translate(err)
	}
	return &Collection{db: db, name: name}, nil
}

// OpenCollection is part of the store.Database interface.
func (db *Database) OpenCollection(name string) (store.Collection, error) {
	return &Collection{db: db, name: name}, nil
}

// collStats is the subset of the collStats command result we read.
type collStats struct {
	Capped bool `bson:"capped"`
}

func (db *Database) isCapped(name string) (bool, error) {
	session, mdb := db.copySession()
	defer session.Close()

	var stats collStats
	cmd := bson.D{{Name: "collStats", Value: name}}
	if err := mdb.Run(cmd, &stats); err != nil {
		if isNamespaceNotFound(err) {
			return false, errors.NotFoundf("collection %q", name)
		}
		return false, translate(err)
	}
	return stats.Capped, nil
}
