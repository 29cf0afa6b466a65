// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/mubsub/store"
)

// Logger represents the logging methods used by this package.
type Logger interface {
	Errorf(string, ...interface{})
	Warningf(string, ...interface{})
	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
}

// listener follows a collection from a watermark until it fails or
// dying is closed, in which case it returns tomb.ErrDying.
type listener interface {
	run(dying <-chan struct{}) error
}

type listenerConfig struct {
	collection store.Collection
	watermark  *Watermark
	clock      clock.Clock
	logger     Logger
	dispatch   func(store.Envelope)
	ready      func()
	report     func(error)
}

// deliver advances the watermark to env and dispatches it. Envelopes
// at or before the watermark have been seen already and are dropped.
func (c *listenerConfig) deliver(env store.Envelope) {
	if !c.watermark.Advance(env.ID) {
		c.logger.Tracef("skipping %s at or before watermark in %q", env.ID, c.collection.Name())
		return
	}
	c.logger.Tracef("watermark in %q now %s", c.collection.Name(), env.ID)
	c.dispatch(env)
}

func isDying(dying <-chan struct{}) bool {
	select {
	case <-dying:
		return true
	default:
		return false
	}
}

// boundedListener tails a bounded collection.
type boundedListener struct {
	listenerConfig
	retryInterval time.Duration
}

// bootstrap establishes the watermark. An empty collection is given an
// anchor envelope: a tailing cursor on an empty bounded collection is
// dead as soon as it is opened, and the anchor also marks the point
// after which envelopes are new.
func (l *boundedListener) bootstrap() error {
	name := l.collection.Name()
	id, err := newestID(l.collection)
	if err != nil {
		return errors.Trace(err)
	}
	if id.IsZero() {
		id, err = l.collection.InsertOne(store.Envelope{InsertedAt: l.clock.Now()})
		if err != nil {
			return errors.Annotatef(err, "inserting anchor into %q", name)
		}
		l.logger.Debugf("inserted anchor %s into %q", id, name)
		l.watermark.Advance(id)
		return nil
	}
	// A restart keeps the watermark it already had, so that nothing
	// published while the cursor was down is skipped.
	if l.watermark.Get().IsZero() {
		l.watermark.Advance(id)
	}
	return nil
}

func (l *boundedListener) run(dying <-chan struct{}) error {
	name := l.collection.Name()
	if err := l.bootstrap(); err != nil {
		return newFault(ErrBrokenCursor, fmt.Sprintf("bootstrapping %q", name), err)
	}

	cursor := l.collection.FindAfter(l.watermark.Get(), store.FindOptions{
		Tailable: true,
		Timeout:  l.retryInterval,
	})
	defer cursor.Close()
	l.logger.Debugf("tailing %q after %s", name, l.watermark.Get())
	l.ready()

	var env store.Envelope
	for {
		for cursor.Next(&env) {
			if isDying(dying) {
				return tomb.ErrDying
			}
			l.deliver(env)
		}
		if err := cursor.Err(); err != nil {
			return newFault(ErrBrokenCursor, fmt.Sprintf("tailing %q", name), err)
		}
		if !cursor.Timeout() {
			return newFault(ErrBrokenCursor, fmt.Sprintf("cursor on %q ended", name), nil)
		}
		if isDying(dying) {
			return tomb.ErrDying
		}
	}
}

// pollingListener scans a plain collection on a fixed interval.
type pollingListener struct {
	listenerConfig
	interval time.Duration
}

func (l *pollingListener) run(dying <-chan struct{}) error {
	name := l.collection.Name()
	// Resuming after a handoff keeps the watermark; otherwise start
	// from the newest envelope, or from Zero if there is none.
	if l.watermark.Get().IsZero() {
		id, err := newestID(l.collection)
		if err != nil {
			return errors.Annotatef(err, "bootstrapping %q", name)
		}
		l.watermark.Advance(id)
	}
	l.logger.Debugf("polling %q every %v after %s", name, l.interval, l.watermark.Get())
	l.ready()

	for {
		select {
		case <-dying:
			return tomb.ErrDying
		case <-l.clock.After(l.interval):
		}
		err := l.poll(dying)
		if errors.Is(err, tomb.ErrDying) {
			return tomb.ErrDying
		} else if err != nil {
			l.logger.Warningf("%v", err)
			l.report(err)
		}
	}
}

// poll dispatches everything after the watermark. A failed fetch is
// reported and retried at the next tick.
func (l *pollingListener) poll(dying <-chan struct{}) error {
	cursor := l.collection.FindAfter(l.watermark.Get(), store.FindOptions{})
	var env store.Envelope
	for cursor.Next(&env) {
		if isDying(dying) {
			_ = cursor.Close()
			return tomb.ErrDying
		}
		l.deliver(env)
	}
	if err := cursor.Close(); err != nil {
		return newFault(ErrTransientFetch, fmt.Sprintf("polling %q", l.collection.Name()), err)
	}
	return nil
}
