// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package channel_test

import (
	"context"
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/juju/mubsub/channel"
	"github.com/juju/mubsub/store/memstore"
)

type metricsSuite struct {
	channelFixture
	collector *channel.Collector
}

var _ = gc.Suite(&metricsSuite{})

func (s *metricsSuite) SetUpTest(c *gc.C) {
	s.channelFixture.SetUpTest(c)
	s.collector = channel.NewMetricsCollector()
}

func (s *metricsSuite) openMetered(c *gc.C, mode string) *channel.Channel {
	params := s.params()
	params.Metrics = s.collector
	return s.openWith(c, params, mode, nil)
}

func (s *metricsSuite) TestRegisters(c *gc.C) {
	registry := prometheus.NewPedanticRegistry()
	c.Assert(registry.Register(s.collector), jc.ErrorIsNil)
}

func (s *metricsSuite) TestPublishAndDelivery(c *gc.C) {
	ch := s.openMetered(c, "bounded")
	got := collect(ch, "a")
	waitReady(c, ch)

	publish(c, ch, "a", "x")
	expectPayloads(c, got, "x")
	s.db.FailInserts("foo", errors.New("boom"))
	_, err := ch.Publish(context.Background(), "a", "y")
	c.Assert(err, gc.NotNil)

	expected := `
# HELP mubsub_delivered_total The number of envelopes dispatched to subscribers.
# TYPE mubsub_delivered_total counter
mubsub_delivered_total{channel="foo"} 1
# HELP mubsub_publish_errors_total The number of publishes that failed.
# TYPE mubsub_publish_errors_total counter
mubsub_publish_errors_total{channel="foo"} 1
# HELP mubsub_published_total The number of envelopes published.
# TYPE mubsub_published_total counter
mubsub_published_total{channel="foo"} 1
# HELP mubsub_transport_state 1 for the current transport state of each channel.
# TYPE mubsub_transport_state gauge
mubsub_transport_state{channel="foo",state="bounded"} 1
mubsub_transport_state{channel="foo",state="closed"} 0
mubsub_transport_state{channel="foo",state="opening"} 0
mubsub_transport_state{channel="foo",state="polling"} 0
mubsub_transport_state{channel="foo",state="uninitialized"} 0
`
	err = testutil.CollectAndCompare(s.collector, strings.NewReader(expected),
		"mubsub_delivered_total",
		"mubsub_publish_errors_total",
		"mubsub_published_total",
		"mubsub_transport_state",
	)
	c.Check(err, jc.ErrorIsNil)
	c.Check(testutil.CollectAndCount(s.collector, "mubsub_publish_duration_seconds"), gc.Equals, 1)
}

func (s *metricsSuite) TestFallbackAndFaults(c *gc.C) {
	s.db = memstore.NewDatabase(memstore.Options{NoBounded: true})
	ch := s.openMetered(c, "auto")
	waitReady(c, ch)
	s.db.FailFinds("foo", errors.New("boom"))
	s.expectError(c)

	expected := `
# HELP mubsub_fallbacks_total The number of times auto mode settled on polling.
# TYPE mubsub_fallbacks_total counter
mubsub_fallbacks_total{channel="foo"} 1
# HELP mubsub_faults_total The number of faults reported, by kind.
# TYPE mubsub_faults_total counter
mubsub_faults_total{channel="foo",kind="transient-fetch"} 1
`
	err := testutil.CollectAndCompare(s.collector, strings.NewReader(expected),
		"mubsub_fallbacks_total",
		"mubsub_faults_total",
	)
	c.Check(err, jc.ErrorIsNil)
}

func (s *metricsSuite) TestNoCollector(c *gc.C) {
	ch := s.open(c, "polling", nil)
	got := collect(ch, "a")
	waitReady(c, ch)
	id := publish(c, ch, "a", "x")
	c.Check(id.IsZero(), jc.IsFalse)
	expectPayloads(c, got, "x")
}
