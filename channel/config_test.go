// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package channel_test

import (
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mubsub/channel"
	"github.com/juju/mubsub/transport"
)

type configSuite struct{}

var _ = gc.Suite(&configSuite{})

func (*configSuite) TestDefaults(c *gc.C) {
	cfg, err := channel.ParseConfig("foo", nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Name, gc.Equals, "foo")
	c.Check(cfg.Mode, gc.Equals, transport.ModeAuto)
	c.Check(cfg.Size, gc.Equals, int64(5242880))
	c.Check(cfg.Max, gc.Equals, int64(0))
	c.Check(cfg.BoundedRetryInterval, gc.Equals, 200*time.Millisecond)
	c.Check(cfg.PollInterval, gc.Equals, time.Second)
	c.Check(cfg.RetentionSeconds, gc.Equals, 0)
	c.Check(cfg.RecreateOnBreak, jc.IsTrue)
	c.Check(cfg.Capabilities, gc.HasLen, len(transport.DefaultCapabilityTable))
	c.Check(cfg, jc.DeepEquals, channel.DefaultConfig("foo"))
}

func (*configSuite) TestAttributes(c *gc.C) {
	cfg, err := channel.ParseConfig("foo", map[string]interface{}{
		"mode":                   "polling",
		"size":                   1024,
		"max":                    50,
		"bounded-retry-interval": 10,
		"poll-interval":          20,
		"poll-retention-seconds": 30,
		"recreate-on-break":      false,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Mode, gc.Equals, transport.ModePolling)
	c.Check(cfg.Size, gc.Equals, int64(1024))
	c.Check(cfg.Max, gc.Equals, int64(50))
	c.Check(cfg.BoundedRetryInterval, gc.Equals, 10*time.Millisecond)
	c.Check(cfg.PollInterval, gc.Equals, 20*time.Millisecond)
	c.Check(cfg.RetentionSeconds, gc.Equals, 30)
	c.Check(cfg.RecreateOnBreak, jc.IsFalse)
}

func (*configSuite) TestUnknownModeIsAuto(c *gc.C) {
	for i, mode := range []interface{}{"capped", "", 42, true, nil, []interface{}{"bounded"}} {
		c.Logf("test %d: %#v", i, mode)
		attrs := map[string]interface{}{"mode": mode, "poll-interval": 20}
		cfg, err := channel.ParseConfig("foo", attrs)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(cfg.Mode, gc.Equals, transport.ModeAuto)
		c.Check(cfg.PollInterval, gc.Equals, 20*time.Millisecond)
		// The caller's attributes are left alone.
		c.Check(attrs["mode"], jc.DeepEquals, mode)
	}
}

func (*configSuite) TestNonPositiveIntervalsUseDefaults(c *gc.C) {
	cfg, err := channel.ParseConfig("foo", map[string]interface{}{
		"bounded-retry-interval": 0,
		"poll-interval":          -5,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.BoundedRetryInterval, gc.Equals, 200*time.Millisecond)
	c.Check(cfg.PollInterval, gc.Equals, time.Second)
}

func (*configSuite) TestBadType(c *gc.C) {
	_, err := channel.ParseConfig("foo", map[string]interface{}{"size": "big"})
	c.Assert(err, gc.ErrorMatches, `channel "foo" config: size: .*`)
}

func (*configSuite) TestUnsupportedErrors(c *gc.C) {
	err := errors.New("emulated store cannot tail")
	cfg, err2 := channel.ParseConfig("foo", map[string]interface{}{
		"unsupported-errors": []interface{}{"cannot tail", " "},
	})
	c.Assert(err2, jc.ErrorIsNil)
	c.Check(cfg.Capabilities, gc.HasLen, len(transport.DefaultCapabilityTable)+1)
	c.Check(cfg.Capabilities.Unsupported(err), jc.IsTrue)
	c.Check(transport.DefaultCapabilityTable.Unsupported(err), jc.IsFalse)
}

func (*configSuite) TestValidate(c *gc.C) {
	for i, test := range []struct {
		mutate func(*channel.Config)
		err    string
	}{
		{func(cfg *channel.Config) { cfg.Name = "" }, "empty channel name not valid"},
		{func(cfg *channel.Config) { cfg.Name = "a$b" }, `channel name "a\$b" not valid`},
		{func(cfg *channel.Config) { cfg.Mode = "capped" }, `mode "capped" not valid`},
		{func(cfg *channel.Config) { cfg.Size = 0 }, "size 0 not valid"},
		{func(cfg *channel.Config) { cfg.Max = -1 }, "max -1 not valid"},
		{func(cfg *channel.Config) { cfg.PollInterval = 0 }, "poll interval 0s not valid"},
		{func(cfg *channel.Config) { cfg.BoundedRetryInterval = 0 }, "bounded retry interval 0s not valid"},
	} {
		c.Logf("test %d: %s", i, test.err)
		cfg := channel.DefaultConfig("foo")
		test.mutate(&cfg)
		err := cfg.Validate()
		c.Check(err, gc.ErrorMatches, test.err)
		c.Check(errors.Is(err, errors.NotValid), jc.IsTrue)
	}

	cfg := channel.DefaultConfig("foo")
	cfg.Mode = transport.ModePolling
	cfg.Size = 0
	c.Check(cfg.Validate(), jc.ErrorIsNil)
}

func (*configSuite) TestAttrsRoundTrip(c *gc.C) {
	cfg := channel.DefaultConfig("foo")
	cfg.Mode = transport.ModeBounded
	cfg.Max = 7
	cfg.PollInterval = 30 * time.Millisecond
	cfg.RetentionSeconds = 12
	cfg.RecreateOnBreak = false

	parsed, err := channel.ParseConfig("foo", cfg.Attrs())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(parsed, jc.DeepEquals, cfg)
}
