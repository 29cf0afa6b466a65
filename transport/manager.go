// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/mubsub/store"
)

const (
	// DefaultBoundedRetryInterval bounds each wait of a tailing cursor.
	DefaultBoundedRetryInterval = 200 * time.Millisecond

	// DefaultPollInterval separates polls of a plain collection.
	DefaultPollInterval = time.Second

	// DefaultRestartDelay separates a broken cursor from the restart.
	DefaultRestartDelay = time.Second
)

// ManagerConfig contains the configuration parameters required for a
// NewManager.
type ManagerConfig struct {
	// Database holds the channel's collection.
	Database store.Database
	// Name is the channel and collection name.
	Name string
	// Mode selects the transport.
	Mode Mode

	MaxBytes int64
	MaxDocs  int64

	// BoundedRetryInterval bounds each wait of a tailing cursor, and so
	// how quickly the bounded listener notices it is being stopped.
	BoundedRetryInterval time.Duration
	// PollInterval separates polls of a plain collection.
	PollInterval time.Duration
	// RetentionSeconds, if positive, expires polled envelopes.
	RetentionSeconds int
	// RecreateOnBreak restarts the transport after a broken cursor.
	// Otherwise a broken cursor stops the manager.
	RecreateOnBreak bool
	// RestartDelay separates a broken cursor from the restart.
	RestartDelay time.Duration

	// Capabilities classifies bounded creation failures in auto mode.
	// If nil, DefaultCapabilityTable is used.
	Capabilities CapabilityTable

	Clock  clock.Clock
	Logger Logger

	// Dispatch is called, in identifier order, with every envelope
	// after the watermark.
	Dispatch func(store.Envelope)
	// OnReady is called once, the first time a listener is ready.
	OnReady func()
	// OnTransport, if set, is called with every selected transport.
	OnTransport func(Selection)
	// ReportError is called with every fault, fatal or not.
	ReportError func(error)
}

// Validate ensures that all the values that have to be set are set.
func (config ManagerConfig) Validate() error {
	if config.Database == nil {
		return errors.NotValidf("missing Database")
	}
	if config.Name == "" {
		return errors.NotValidf("missing Name")
	}
	if config.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("missing Logger")
	}
	if config.Dispatch == nil {
		return errors.NotValidf("missing Dispatch")
	}
	if config.OnReady == nil {
		return errors.NotValidf("missing OnReady")
	}
	if config.ReportError == nil {
		return errors.NotValidf("missing ReportError")
	}
	return nil
}

// Manager selects a channel's transport, runs its listener, and
// restarts it after a broken cursor.
type Manager struct {
	tomb     tomb.Tomb
	config   ManagerConfig
	selector *Selector

	state     StateMachine
	watermark Watermark
	readyOnce sync.Once

	mu         sync.Mutex
	collection store.Collection
	restarts   int
}

// NewManager returns a running Manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Annotate(err, "new transport Manager invalid config")
	}
	if config.BoundedRetryInterval <= 0 {
		config.BoundedRetryInterval = DefaultBoundedRetryInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RestartDelay <= 0 {
		config.RestartDelay = DefaultRestartDelay
	}
	selector, err := NewSelector(SelectorConfig{
		Database:         config.Database,
		Name:             config.Name,
		Mode:             config.Mode,
		MaxBytes:         config.MaxBytes,
		MaxDocs:          config.MaxDocs,
		RetentionSeconds: config.RetentionSeconds,
		Capabilities:     config.Capabilities,
		Logger:           config.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	m := &Manager{
		config:   config,
		selector: selector,
	}
	m.tomb.Go(func() error {
		defer func() { _ = m.state.Transition(Closed) }()
		err := m.loop()
		// tomb expects ErrDying as an exact value.
		if errors.Is(err, tomb.ErrDying) {
			return tomb.ErrDying
		}
		if err != nil {
			m.config.Logger.Errorf("transport for %q stopped: %v", m.config.Name, err)
		}
		return err
	})
	return m, nil
}

// Kill is part of the worker.Worker interface.
func (m *Manager) Kill() {
	m.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (m *Manager) Wait() error {
	return m.tomb.Wait()
}

// Stop kills the manager and waits for it to finish.
func (m *Manager) Stop() error {
	return worker.Stop(m)
}

// State returns the current transport state.
func (m *Manager) State() State {
	return m.state.State()
}

// Watermark returns the identifier of the last envelope processed.
func (m *Manager) Watermark() store.ID {
	return m.watermark.Get()
}

// Collection returns the collection of the current transport, or nil
// before one is selected.
func (m *Manager) Collection() store.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection
}

// Restarts returns how many times the transport has been restarted
// after a broken cursor.
func (m *Manager) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

func (m *Manager) loop() error {
	logger := m.config.Logger
	for {
		if err := m.state.Transition(Opening); err != nil {
			return errors.Trace(err)
		}
		selection, err := m.selector.Select()
		if err != nil {
			m.config.ReportError(err)
			return errors.Trace(err)
		}
		if err := m.state.Transition(selection.State); err != nil {
			return errors.Trace(err)
		}
		m.mu.Lock()
		m.collection = selection.Collection
		m.mu.Unlock()
		logger.Debugf("transport for %q is %s", m.config.Name, selection.State)
		if m.config.OnTransport != nil {
			m.config.OnTransport(selection)
		}

		err = m.newListener(selection).run(m.tomb.Dying())
		if errors.Is(err, tomb.ErrDying) {
			return tomb.ErrDying
		}
		m.config.ReportError(err)
		if !errors.Is(err, ErrBrokenCursor) || !m.config.RecreateOnBreak {
			return errors.Trace(err)
		}

		logger.Warningf("%v; restarting transport for %q in %v", err, m.config.Name, m.config.RestartDelay)
		select {
		case <-m.tomb.Dying():
			return tomb.ErrDying
		case <-m.config.Clock.After(m.config.RestartDelay):
		}
		m.mu.Lock()
		m.restarts++
		m.mu.Unlock()
	}
}

func (m *Manager) newListener(selection Selection) listener {
	cfg := listenerConfig{
		collection: selection.Collection,
		watermark:  &m.watermark,
		clock:      m.config.Clock,
		logger:     m.config.Logger,
		dispatch:   m.config.Dispatch,
		ready:      m.ready,
		report:     m.config.ReportError,
	}
	if selection.State == Bounded {
		return &boundedListener{
			listenerConfig: cfg,
			retryInterval:  m.config.BoundedRetryInterval,
		}
	}
	return &pollingListener{
		listenerConfig: cfg,
		interval:       m.config.PollInterval,
	}
}

func (m *Manager) ready() {
	m.readyOnce.Do(m.config.OnReady)
}
