// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatch fans envelopes out to subscribers. Each subscription
// is served by its own queue in a pubsub hub, so a slow subscriber
// never holds up a listener, and every subscriber sees envelopes in the
// order they were emitted.
package dispatch

import (
	"sync"

	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"

	"github.com/juju/mubsub/store"
)

// Reserved subscription names.
const (
	// AnyEvent receives every envelope that carries an event name.
	AnyEvent = "$any"

	// RawEnvelope receives every envelope, named or not.
	RawEnvelope = "$raw"
)

// Hub topics. Event names are prefixed so that no event, whatever it is
// called, can reach the wildcard or error topics.
const (
	eventTopicPrefix = "event."
	anyTopic         = "$any"
	rawTopic         = "$raw"
	errorTopic       = "$error"
)

// Logger is the logging interface used by the dispatcher and its hub.
type Logger interface {
	Errorf(string, ...interface{})
	Warningf(string, ...interface{})
	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
}

// Handler is called with each envelope a subscription matches.
type Handler func(store.Envelope)

// ErrorHandler is called with each fault reported on a channel.
type ErrorHandler func(error)

// Dispatcher is a registry of subscriptions keyed by event name.
type Dispatcher struct {
	hub    *pubsub.SimpleHub
	logger Logger

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}
}

// New returns a Dispatcher logging to logger. A nil logger uses the
// "mubsub.dispatch" loggo logger.
func New(logger Logger) *Dispatcher {
	if logger == nil {
		logger = loggo.GetLogger("mubsub.dispatch")
	}
	return &Dispatcher{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: logger,
		}),
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

func topicFor(name string) string {
	switch name {
	case AnyEvent:
		return anyTopic
	case RawEnvelope:
		return rawTopic
	}
	return eventTopicPrefix + name
}

// Subscribe registers handler for envelopes with the given event name,
// or for one of the reserved names AnyEvent and RawEnvelope. An empty
// name subscribes to AnyEvent.
func (d *Dispatcher) Subscribe(name string, handler Handler) *Subscription {
	if name == "" {
		name = AnyEvent
	}
	return d.subscribe(topicFor(name), func(_ string, data interface{}) {
		env, ok := data.(store.Envelope)
		if !ok {
			d.logger.Warningf("unexpected data %T on %q", data, name)
			return
		}
		handler(env)
	})
}

// SubscribeErrors registers handler for reported faults.
func (d *Dispatcher) SubscribeErrors(handler ErrorHandler) *Subscription {
	return d.subscribe(errorTopic, func(_ string, data interface{}) {
		if err, ok := data.(error); ok {
			handler(err)
		}
	})
}

func (d *Dispatcher) subscribe(topic string, handler func(string, interface{})) *Subscription {
	sub := &Subscription{dispatcher: d}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		sub.unsubscribe = func() {}
		return sub
	}
	sub.unsubscribe = d.hub.Subscribe(topic, func(topic string, data interface{}) {
		// Handlers queued before Close are dropped rather than run.
		if d.isClosed() {
			return
		}
		handler(topic, data)
	})
	d.subs[sub] = struct{}{}
	return sub
}

// Emit dispatches env to subscribers of its event name and of AnyEvent
// when it is named, and always to subscribers of RawEnvelope. It is a
// no-op once the dispatcher is closed.
func (d *Dispatcher) Emit(env store.Envelope) {
	if d.isClosed() {
		return
	}
	if !env.IsAnchor() {
		d.hub.Publish(eventTopicPrefix+env.Event, env)
		d.hub.Publish(anyTopic, env)
	}
	d.hub.Publish(rawTopic, env)
}

// EmitError reports err to error subscribers. It is a no-op once the
// dispatcher is closed.
func (d *Dispatcher) EmitError(err error) {
	if err == nil || d.isClosed() {
		return
	}
	d.hub.Publish(errorTopic, err)
}

// Close removes every subscription. Pending and future deliveries are
// discarded.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for sub := range subs {
		sub.unsubscribe()
	}
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) remove(sub *Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[sub]; !ok {
		return false
	}
	delete(d.subs, sub)
	return true
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	dispatcher  *Dispatcher
	unsubscribe func()
}

// Unsubscribe removes exactly this registration. It is safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	if s.dispatcher.remove(s) {
		s.unsubscribe()
	}
}
