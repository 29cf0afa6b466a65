// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type stateSuite struct{}

var _ = gc.Suite(&stateSuite{})

func (*stateSuite) TestStrings(c *gc.C) {
	c.Check(Uninitialized.String(), gc.Equals, "uninitialized")
	c.Check(Opening.String(), gc.Equals, "opening")
	c.Check(Bounded.String(), gc.Equals, "bounded")
	c.Check(Polling.String(), gc.Equals, "polling")
	c.Check(Closed.String(), gc.Equals, "closed")
	c.Check(State(42).String(), gc.Equals, "unknown")
}

func (*stateSuite) TestCanTransition(c *gc.C) {
	for i, test := range []struct {
		from, to State
		ok       bool
	}{
		{Uninitialized, Opening, true},
		{Uninitialized, Bounded, false},
		{Uninitialized, Closed, true},
		{Opening, Bounded, true},
		{Opening, Polling, true},
		{Opening, Opening, false},
		{Bounded, Opening, true},
		{Bounded, Polling, true},
		{Bounded, Closed, true},
		{Polling, Bounded, false},
		{Polling, Opening, false},
		{Polling, Closed, true},
		{Closed, Opening, false},
		{Closed, Closed, false},
	} {
		c.Logf("test %d: %s -> %s", i, test.from, test.to)
		c.Check(CanTransition(test.from, test.to), gc.Equals, test.ok)
	}
}

func (*stateSuite) TestStateMachine(c *gc.C) {
	var m StateMachine
	c.Assert(m.State(), gc.Equals, Uninitialized)

	c.Assert(m.Transition(Opening), jc.ErrorIsNil)
	c.Assert(m.Transition(Polling), jc.ErrorIsNil)
	c.Assert(m.State(), gc.Equals, Polling)

	err := m.Transition(Bounded)
	c.Assert(err, gc.ErrorMatches, "transport transition from polling to bounded not valid")
	c.Assert(errors.Is(err, errors.NotValid), jc.IsTrue)
	c.Assert(m.State(), gc.Equals, Polling)

	c.Assert(m.Transition(Closed), jc.ErrorIsNil)
	c.Assert(m.Transition(Opening), gc.NotNil)
}

type modeSuite struct{}

var _ = gc.Suite(&modeSuite{})

func (*modeSuite) TestParseMode(c *gc.C) {
	for i, test := range []struct {
		in   string
		mode Mode
		ok   bool
	}{
		{"auto", ModeAuto, true},
		{"bounded", ModeBounded, true},
		{" Polling ", ModePolling, true},
		{"", ModeAuto, false},
		{"capped", ModeAuto, false},
	} {
		c.Logf("test %d: %q", i, test.in)
		mode, ok := ParseMode(test.in)
		c.Check(mode, gc.Equals, test.mode)
		c.Check(ok, gc.Equals, test.ok)
	}
}
