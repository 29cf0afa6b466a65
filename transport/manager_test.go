// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	coretesting "github.com/juju/mubsub/internal/testing"
	"github.com/juju/mubsub/store"
	"github.com/juju/mubsub/store/memstore"
)

type managerSuite struct {
	db         *memstore.Database
	envelopes  chan store.Envelope
	errors     chan error
	transports chan Selection
	ready      chan struct{}
}

var _ = gc.Suite(&managerSuite{})

func (s *managerSuite) SetUpTest(c *gc.C) {
	s.db = memstore.NewDatabase(memstore.Options{})
	s.envelopes = make(chan store.Envelope, 100)
	s.errors = make(chan error, 100)
	s.transports = make(chan Selection, 10)
	s.ready = make(chan struct{})
}

func (s *managerSuite) config(mode Mode) ManagerConfig {
	return ManagerConfig{
		Database:             s.db,
		Name:                 "foo",
		Mode:                 mode,
		MaxBytes:             1 << 20,
		BoundedRetryInterval: 10 * time.Millisecond,
		PollInterval:         10 * time.Millisecond,
		RecreateOnBreak:      true,
		RestartDelay:         10 * time.Millisecond,
		Clock:                clock.WallClock,
		Logger:               testLogger,
		Dispatch:             func(env store.Envelope) { s.envelopes <- env },
		OnReady:              func() { close(s.ready) },
		OnTransport:          func(selection Selection) { s.transports <- selection },
		ReportError:          func(err error) { s.errors <- err },
	}
}

func (s *managerSuite) newManager(c *gc.C, config ManagerConfig) *Manager {
	m, err := NewManager(config)
	c.Assert(err, jc.ErrorIsNil)
	return m
}

func (s *managerSuite) waitReady(c *gc.C) {
	select {
	case <-s.ready:
	case <-time.After(coretesting.LongWait):
		c.Fatalf("manager never ready")
	}
}

func (s *managerSuite) waitTransport(c *gc.C) Selection {
	select {
	case selection := <-s.transports:
		return selection
	case <-time.After(coretesting.LongWait):
		c.Fatalf("no transport selected")
	}
	return Selection{}
}

func (s *managerSuite) waitError(c *gc.C) error {
	select {
	case err := <-s.errors:
		return err
	case <-time.After(coretesting.LongWait):
		c.Fatalf("no error reported")
	}
	return nil
}

func (s *managerSuite) insert(c *gc.C, event string) store.ID {
	coll, err := s.db.OpenCollection("foo")
	c.Assert(err, jc.ErrorIsNil)
	id, err := coll.InsertOne(store.Envelope{Event: event, Payload: event})
	c.Assert(err, jc.ErrorIsNil)
	return id
}

func (s *managerSuite) expectEvent(c *gc.C, event string) store.Envelope {
	select {
	case env := <-s.envelopes:
		c.Assert(env.Event, gc.Equals, event)
		return env
	case <-time.After(coretesting.LongWait):
		c.Fatalf("timed out waiting for %q", event)
	}
	return store.Envelope{}
}

func (s *managerSuite) TestValidate(c *gc.C) {
	for i, test := range []struct {
		mutate func(*ManagerConfig)
		err    string
	}{
		{func(cfg *ManagerConfig) { cfg.Database = nil }, "missing Database not valid"},
		{func(cfg *ManagerConfig) { cfg.Name = "" }, "missing Name not valid"},
		{func(cfg *ManagerConfig) { cfg.Clock = nil }, "missing Clock not valid"},
		{func(cfg *ManagerConfig) { cfg.Logger = nil }, "missing Logger not valid"},
		{func(cfg *ManagerConfig) { cfg.Dispatch = nil }, "missing Dispatch not valid"},
		{func(cfg *ManagerConfig) { cfg.OnReady = nil }, "missing OnReady not valid"},
		{func(cfg *ManagerConfig) { cfg.ReportError = nil }, "missing ReportError not valid"},
	} {
		c.Logf("test %d: %s", i, test.err)
		config := s.config(ModeAuto)
		test.mutate(&config)
		c.Check(config.Validate(), gc.ErrorMatches, test.err)
		_, err := NewManager(config)
		c.Check(err, gc.ErrorMatches, "new transport Manager invalid config: "+test.err)
	}
}

func (s *managerSuite) TestBounded(c *gc.C) {
	m := s.newManager(c, s.config(ModeBounded))
	defer workertest.DirtyKill(c, m)

	c.Check(s.waitTransport(c).State, gc.Equals, Bounded)
	s.waitReady(c)
	c.Check(m.State(), gc.Equals, Bounded)
	c.Check(m.Collection().Name(), gc.Equals, "foo")

	id := s.insert(c, "a")
	s.expectEvent(c, "a")
	c.Check(m.Watermark(), gc.Equals, id)

	workertest.CleanKill(c, m)
	c.Check(m.State(), gc.Equals, Closed)
}

func (s *managerSuite) TestPolling(c *gc.C) {
	config := s.config(ModePolling)
	config.RetentionSeconds = 60
	m := s.newManager(c, config)
	defer workertest.DirtyKill(c, m)

	selection := s.waitTransport(c)
	c.Check(selection.State, gc.Equals, Polling)
	c.Check(selection.Fallback, jc.IsFalse)
	s.waitReady(c)
	c.Check(s.db.IsBounded("foo"), jc.IsFalse)
	c.Check(s.db.Indexes("foo")[RetentionIndexName], gc.Equals, time.Minute)

	s.insert(c, "a")
	s.expectEvent(c, "a")
	workertest.CleanKill(c, m)
}

func (s *managerSuite) TestAutoFallsBackOnPlainCollection(c *gc.C) {
	_, err := s.db.CreateCollection("foo", store.CollectionOptions{})
	c.Assert(err, jc.ErrorIsNil)

	m := s.newManager(c, s.config(ModeAuto))
	defer workertest.DirtyKill(c, m)

	selection := s.waitTransport(c)
	c.Check(selection.State, gc.Equals, Polling)
	c.Check(selection.Fallback, jc.IsTrue)
	s.waitReady(c)

	s.insert(c, "f")
	s.expectEvent(c, "f")
	workertest.CleanKill(c, m)
}

func (s *managerSuite) TestBoundedOnPlainCollectionIsFatal(c *gc.C) {
	_, err := s.db.CreateCollection("foo", store.CollectionOptions{})
	c.Assert(err, jc.ErrorIsNil)

	m := s.newManager(c, s.config(ModeBounded))
	err = workertest.CheckKilled(c, m)
	c.Assert(err, gc.ErrorMatches, `collection "foo" is not bounded`)
	c.Assert(errors.Is(err, ErrNotBounded), jc.IsTrue)
	c.Check(errors.Is(s.waitError(c), ErrNotBounded), jc.IsTrue)
	c.Check(m.State(), gc.Equals, Closed)

	select {
	case <-s.ready:
		c.Fatalf("manager became ready")
	default:
	}
}

func (s *managerSuite) TestRecreateAfterBrokenCursor(c *gc.C) {
	m := s.newManager(c, s.config(ModeBounded))
	defer workertest.DirtyKill(c, m)

	s.waitTransport(c)
	s.waitReady(c)
	first := s.insert(c, "a")
	s.expectEvent(c, "a")

	c.Assert(s.db.Drop("foo"), jc.ErrorIsNil)
	c.Check(errors.Is(s.waitError(c), ErrBrokenCursor), jc.IsTrue)

	// The restarted listener anchors the recreated collection.
	c.Check(s.waitTransport(c).State, gc.Equals, Bounded)
	deadline := time.After(coretesting.LongWait)
	for len(s.db.Envelopes("foo")) == 0 {
		select {
		case <-deadline:
			c.Fatalf("collection never anchored")
		case <-time.After(coretesting.ShortWait):
		}
	}
	c.Check(m.Restarts(), gc.Equals, 1)

	s.insert(c, "b")
	env := s.expectEvent(c, "b")
	c.Check(env.ID.After(first), jc.IsTrue)
	c.Check(m.Watermark(), gc.Equals, env.ID)

	select {
	case env := <-s.envelopes:
		c.Fatalf("unexpected envelope %q", env.Event)
	case <-time.After(coretesting.ShortWait):
	}
	workertest.CleanKill(c, m)
}

func (s *managerSuite) TestBrokenCursorWithoutRecreateIsTerminal(c *gc.C) {
	config := s.config(ModeBounded)
	config.RecreateOnBreak = false
	m := s.newManager(c, config)
	defer workertest.DirtyKill(c, m)

	s.waitReady(c)
	c.Assert(s.db.Drop("foo"), jc.ErrorIsNil)

	err := workertest.CheckKilled(c, m)
	c.Assert(errors.Is(err, ErrBrokenCursor), jc.IsTrue)
	c.Check(errors.Is(s.waitError(c), ErrBrokenCursor), jc.IsTrue)
	c.Check(m.State(), gc.Equals, Closed)
	c.Check(m.Restarts(), gc.Equals, 0)
}
