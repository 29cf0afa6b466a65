// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package channel provides broadcast channels over a document store.
// Every process with a Channel of the same name on the same database
// sees the envelopes published on it from the moment its channel is
// ready onwards.
package channel

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mubsub/dispatch"
	"github.com/juju/mubsub/store"
	"github.com/juju/mubsub/transport"
)

var logger = loggo.GetLogger("mubsub.channel")

// ErrClosed is returned by publishes on a channel closed by its owner.
const ErrClosed = errors.ConstError("channel closed")

// Logger represents the logging methods used by channels.
type Logger interface {
	Errorf(string, ...interface{})
	Warningf(string, ...interface{})
	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
}

// Params holds the collaborators of a channel.
type Params struct {
	// Database holds the channel's collection.
	Database store.Database

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Logger defaults to the "mubsub.channel" logger.
	Logger Logger

	// Metrics, if set, records the channel's activity.
	Metrics *Collector

	// RestartDelay separates a broken cursor from the restart of the
	// transport. Zero means transport.DefaultRestartDelay.
	RestartDelay time.Duration

	// OnError, if set, is registered before the transport starts, so
	// it also sees faults raised while the channel is opening.
	OnError dispatch.ErrorHandler
}

// Validate ensures the params are usable.
func (p Params) Validate() error {
	if p.Database == nil {
		return errors.NotValidf("missing Database")
	}
	return nil
}

// Subscription is the handle returned by Subscribe and OnError.
type Subscription interface {
	Unsubscribe()
}

// PublishCallback receives the outcome of an asynchronous publish.
type PublishCallback func(store.ID, error)

type publishRequest struct {
	event   string
	payload interface{}
	result  PublishCallback

	// sync requests are told of results discarded by Close, so the
	// caller is not left waiting.
	sync      bool
	abandoned atomic.Bool
}

// Channel is a named broadcast channel. It is a worker: it dies when
// its transport fails fatally, and Wait returns that failure.
type Channel struct {
	catacomb catacomb.Catacomb

	id         string
	config     Config
	clock      clock.Clock
	logger     Logger
	metrics    *Collector
	dispatcher *dispatch.Dispatcher
	manager    *transport.Manager

	ready     chan struct{}
	readyOnce sync.Once
	wake      chan struct{}

	mu      sync.Mutex
	closed  bool
	deadErr error
	queue   []*publishRequest

	published     atomic.Uint64
	publishErrors atomic.Uint64
	delivered     atomic.Uint64
	faults        atomic.Uint64
}

// New starts a channel with the given config.
func New(config Config, params Params) (*Channel, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if params.Clock == nil {
		params.Clock = clock.WallClock
	}
	if params.Logger == nil {
		params.Logger = logger
	}

	ch := &Channel{
		id:         uuid.NewString(),
		config:     config,
		clock:      params.Clock,
		logger:     params.Logger,
		metrics:    params.Metrics,
		dispatcher: dispatch.New(params.Logger),
		ready:      make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	if params.OnError != nil {
		ch.dispatcher.SubscribeErrors(params.OnError)
	}
	manager, err := transport.NewManager(transport.ManagerConfig{
		Database:             params.Database,
		Name:                 config.Name,
		Mode:                 config.Mode,
		MaxBytes:             config.Size,
		MaxDocs:              config.Max,
		BoundedRetryInterval: config.BoundedRetryInterval,
		PollInterval:         config.PollInterval,
		RetentionSeconds:     config.RetentionSeconds,
		RecreateOnBreak:      config.RecreateOnBreak,
		RestartDelay:         params.RestartDelay,
		Capabilities:         config.Capabilities,
		Clock:                params.Clock,
		Logger:               params.Logger,
		Dispatch:             ch.deliver,
		OnReady:              ch.setReady,
		OnTransport:          ch.transportSelected,
		ReportError:          ch.reportError,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	ch.manager = manager

	err = catacomb.Invoke(catacomb.Plan{
		Site: &ch.catacomb,
		Work: ch.loop,
		Init: []worker.Worker{manager},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	ch.logger.Debugf("channel %q started as %s", config.Name, ch.id)
	return ch, nil
}

// Kill is part of the worker.Worker interface.
func (ch *Channel) Kill() {
	ch.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (ch *Channel) Wait() error {
	return ch.catacomb.Wait()
}

// Name returns the channel name.
func (ch *Channel) Name() string {
	return ch.config.Name
}

// ID identifies this channel instance.
func (ch *Channel) ID() string {
	return ch.id
}

// Config returns the channel's config.
func (ch *Channel) Config() Config {
	return ch.config
}

// State returns the current transport state.
func (ch *Channel) State() transport.State {
	return ch.manager.State()
}

// Ready returns a channel closed once the channel is publish-ready.
func (ch *Channel) Ready() <-chan struct{} {
	return ch.ready
}

// Dead returns a channel closed once the channel has stopped.
func (ch *Channel) Dead() <-chan struct{} {
	return ch.catacomb.Dead()
}

// Subscribe registers handler for envelopes with the given event name,
// for every named envelope if event is empty or dispatch.AnyEvent, or
// for every envelope if event is dispatch.RawEnvelope.
func (ch *Channel) Subscribe(event string, handler dispatch.Handler) Subscription {
	return ch.dispatcher.Subscribe(event, handler)
}

// OnError registers handler for faults reported by the channel.
func (ch *Channel) OnError(handler dispatch.ErrorHandler) Subscription {
	return ch.dispatcher.SubscribeErrors(handler)
}

// Close marks the channel closed and stops it. Handlers are not called
// again. Publishes still queued fail with ErrClosed, and the result of
// an insert already under way is discarded. Close returns the error the
// channel died with, if it failed before being closed.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	ch.dispatcher.Close()
	return worker.Stop(ch)
}

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func validEvent(event string) error {
	if event == "" || strings.HasPrefix(event, "$") {
		return errors.NotValidf("event name %q", event)
	}
	return nil
}

// Publish inserts an envelope once the channel is ready, and returns
// its identifier. Until then the publish is queued; ctx bounds the
// wait. If the channel has died, Publish fails at once with the error
// it died with, or ErrClosed.
func (ch *Channel) Publish(ctx context.Context, event string, payload interface{}) (store.ID, error) {
	type result struct {
		id  store.ID
		err error
	}
	done := make(chan result, 1)
	req := &publishRequest{
		event:   event,
		payload: payload,
		sync:    true,
		result: func(id store.ID, err error) {
			done <- result{id, err}
		},
	}
	ch.enqueue(req)
	select {
	case r := <-done:
		return r.id, r.err
	case <-ctx.Done():
		req.abandoned.Store(true)
		return store.Zero, errors.Trace(ctx.Err())
	}
}

// PublishAsync is Publish without waiting. onResult, if not nil, is
// called with the outcome on the channel's goroutine, so it must not
// wait on the channel itself.
func (ch *Channel) PublishAsync(event string, payload interface{}, onResult PublishCallback) {
	if onResult == nil {
		onResult = func(store.ID, error) {}
	}
	ch.enqueue(&publishRequest{
		event:   event,
		payload: payload,
		result:  onResult,
	})
}

func (ch *Channel) enqueue(req *publishRequest) {
	if err := validEvent(req.event); err != nil {
		req.result(store.Zero, err)
		return
	}
	ch.mu.Lock()
	if ch.deadErr != nil {
		err := ch.deadErr
		ch.mu.Unlock()
		req.result(store.Zero, err)
		return
	}
	ch.queue = append(ch.queue, req)
	ch.mu.Unlock()

	select {
	case ch.wake <- struct{}{}:
	default:
	}
}

func (ch *Channel) takeQueue() []*publishRequest {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	queue := ch.queue
	ch.queue = nil
	return queue
}

// fail rejects every queued publish, and every later one, with err.
func (ch *Channel) fail(err error) {
	ch.mu.Lock()
	if ch.closed || err == nil {
		err = ErrClosed
	}
	ch.deadErr = err
	queue := ch.queue
	ch.queue = nil
	ch.mu.Unlock()

	for _, req := range queue {
		req.result(store.Zero, err)
	}
}

func (ch *Channel) loop() error {
	defer func() {
		ch.fail(ch.catacomb.Err())
	}()

	select {
	case <-ch.catacomb.Dying():
		return ch.catacomb.ErrDying()
	case <-ch.ready:
	}
	for {
		for _, req := range ch.takeQueue() {
			if ch.isDying() {
				// Put back what is left for fail to reject.
				ch.requeue(req)
				continue
			}
			ch.insert(req)
		}
		select {
		case <-ch.catacomb.Dying():
			return ch.catacomb.ErrDying()
		case <-ch.wake:
		}
	}
}

func (ch *Channel) isDying() bool {
	select {
	case <-ch.catacomb.Dying():
		return true
	default:
		return false
	}
}

func (ch *Channel) requeue(req *publishRequest) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.queue = append(ch.queue, req)
}

func (ch *Channel) insert(req *publishRequest) {
	if req.abandoned.Load() {
		return
	}
	coll := ch.manager.Collection()
	start := ch.clock.Now()
	id, err := coll.InsertOne(store.Envelope{
		Event:      req.event,
		Payload:    req.payload,
		InsertedAt: start,
	})
	ch.metrics.recordPublish(ch.config.Name, ch.clock.Now().Sub(start), err)
	if err != nil {
		ch.publishErrors.Add(1)
		err = errors.Annotatef(err, "publishing %q on %q", req.event, ch.config.Name)
		ch.logger.Debugf("%v", err)
	} else {
		ch.published.Add(1)
		ch.logger.Tracef("published %q on %q as %s", req.event, ch.config.Name, id)
	}

	if ch.isClosed() {
		if req.sync {
			req.result(store.Zero, ErrClosed)
		}
		return
	}
	req.result(id, err)
}

func (ch *Channel) setReady() {
	ch.readyOnce.Do(func() {
		ch.logger.Debugf("channel %q ready", ch.config.Name)
		close(ch.ready)
	})
}

func (ch *Channel) deliver(env store.Envelope) {
	if ch.isClosed() {
		return
	}
	ch.delivered.Add(1)
	ch.metrics.recordDelivery(ch.config.Name)
	ch.dispatcher.Emit(env)
}

func (ch *Channel) transportSelected(selection transport.Selection) {
	if selection.Fallback {
		ch.logger.Infof("channel %q fell back to polling", ch.config.Name)
	}
	ch.metrics.recordTransport(ch.config.Name, selection.State, selection.Fallback)
}

func (ch *Channel) reportError(err error) {
	ch.faults.Add(1)
	ch.metrics.recordFault(ch.config.Name, err)
	if ch.isClosed() {
		return
	}
	ch.logger.Warningf("channel %q: %v", ch.config.Name, err)
	ch.dispatcher.EmitError(err)
}

// Report returns details of the channel for introspection.
func (ch *Channel) Report() map[string]interface{} {
	ch.mu.Lock()
	pending := len(ch.queue)
	ch.mu.Unlock()

	report := map[string]interface{}{
		"instance":          ch.id,
		"name":              ch.config.Name,
		"mode":              string(ch.config.Mode),
		"state":             ch.manager.State().String(),
		"watermark":         ch.manager.Watermark().String(),
		"restarts":          ch.manager.Restarts(),
		"pending-publishes": pending,
		"subscriptions":     ch.dispatcher.Len(),
		"published":         ch.published.Load(),
		"publish-errors":    ch.publishErrors.Load(),
		"delivered":         ch.delivered.Load(),
		"faults":            ch.faults.Load(),
	}
	select {
	case <-ch.ready:
		report["ready"] = true
	default:
		report["ready"] = false
	}
	if coll := ch.manager.Collection(); coll != nil {
		report["collection"] = coll.Name()
	}
	return report
}
