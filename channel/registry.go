// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package channel

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mubsub/store"
)

// ErrRegistryStopped is returned when asking a stopped registry for a
// channel.
const ErrRegistryStopped = errors.ConstError("registry stopped")

// Registry owns the channels opened on one database, one per name.
// Stopping the registry closes them all.
type Registry struct {
	catacomb catacomb.Catacomb
	params   Params

	mu       sync.Mutex
	stopped  bool
	channels map[string]*Channel
}

// NewRegistry returns a running Registry creating channels with params.
func NewRegistry(params Params) (*Registry, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if params.Logger == nil {
		params.Logger = logger
	}
	r := &Registry{
		params:   params,
		channels: make(map[string]*Channel),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &r.catacomb,
		Work: r.loop,
	})
	return r, errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (r *Registry) Kill() {
	r.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *Registry) Wait() error {
	return r.catacomb.Wait()
}

// Database returns the database the registry's channels use.
func (r *Registry) Database() store.Database {
	return r.params.Database
}

// Channel returns the live channel with the given name, starting one
// configured by attrs if there is none. attrs are ignored when the
// channel already exists. A channel that has been closed or has died
// is replaced.
func (r *Registry) Channel(name string, attrs map[string]interface{}) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrRegistryStopped
	}
	if ch, ok := r.channels[name]; ok {
		select {
		case <-ch.Dead():
			r.params.Logger.Debugf("replacing stopped channel %q", name)
		default:
			return ch, nil
		}
	}

	config, err := ParseConfig(name, attrs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ch, err := New(config, r.params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.channels[name] = ch
	return ch, nil
}

// Remove closes the named channel and forgets it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	delete(r.channels, name)
	r.mu.Unlock()

	if !ok {
		return errors.NotFoundf("channel %q", name)
	}
	return errors.Trace(ch.Close())
}

// Names returns the names of the channels held, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report returns the report of every channel held, by name.
func (r *Registry) Report() map[string]interface{} {
	r.mu.Lock()
	channels := make(map[string]*Channel, len(r.channels))
	for name, ch := range r.channels {
		channels[name] = ch
	}
	r.mu.Unlock()

	report := make(map[string]interface{}, len(channels))
	for name, ch := range channels {
		report[name] = ch.Report()
	}
	return report
}

func (r *Registry) loop() error {
	<-r.catacomb.Dying()

	r.mu.Lock()
	r.stopped = true
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	// Channel failures are logged, not returned.
	for name, ch := range channels {
		if err := ch.Close(); err != nil {
			r.params.Logger.Debugf("channel %q stopped with: %v", name, err)
		}
	}
	return r.catacomb.ErrDying()
}
