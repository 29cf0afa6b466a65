// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/mubsub/store"
)

// SelectorConfig holds what the Selector needs to resolve a transport.
type SelectorConfig struct {
	Database store.Database
	Name     string
	Mode     Mode

	// MaxBytes and MaxDocs size a newly created bounded collection.
	MaxBytes int64
	MaxDocs  int64

	// RetentionSeconds is applied to polling collections only.
	RetentionSeconds int

	// Capabilities classifies bounded creation failures in auto mode.
	Capabilities CapabilityTable

	Logger Logger
}

// Validate ensures the config is usable.
func (cfg SelectorConfig) Validate() error {
	if cfg.Database == nil {
		return errors.NotValidf("missing Database")
	}
	if cfg.Name == "" {
		return errors.NotValidf("missing Name")
	}
	if cfg.Logger == nil {
		return errors.NotValidf("missing Logger")
	}
	return nil
}

// Selection is a resolved transport: the state it puts the channel in
// and the collection it runs on.
type Selection struct {
	State      State
	Collection store.Collection

	// Fallback is true when auto mode settled on polling.
	Fallback bool
}

// Selector resolves the configured mode into a concrete transport,
// creating the collection if necessary.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector returns a Selector for the config.
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if _, ok := ParseMode(string(cfg.Mode)); !ok {
		cfg.Mode = ModeAuto
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = DefaultCapabilityTable
	}
	return &Selector{cfg: cfg}, nil
}

// Select resolves the transport. Errors are fatal to the channel.
func (s *Selector) Select() (Selection, error) {
	if s.cfg.Mode == ModePolling {
		coll, err := s.openOrCreatePlain()
		if err != nil {
			return Selection{}, errors.Trace(err)
		}
		return s.polling(coll, false)
	}
	return s.selectBounded()
}

func (s *Selector) selectBounded() (Selection, error) {
	name := s.cfg.Name
	coll, err := s.cfg.Database.CreateCollection(name, store.CollectionOptions{
		Bounded:  true,
		MaxBytes: s.cfg.MaxBytes,
		MaxDocs:  s.cfg.MaxDocs,
	})
	switch {
	case err == nil:
		s.cfg.Logger.Debugf("created bounded collection %q", name)
		return Selection{State: Bounded, Collection: coll}, nil

	case errors.Is(err, errors.AlreadyExists):
		// Lost the creation race, or the collection predates us.
		coll, err = s.cfg.Database.OpenCollection(name)
		if err != nil {
			return Selection{}, errors.Annotatef(err, "opening collection %q", name)
		}
		bounded, err := coll.IsBounded()
		if err != nil {
			return Selection{}, errors.Annotatef(err, "checking collection %q", name)
		}
		if bounded {
			return Selection{State: Bounded, Collection: coll}, nil
		}
		if s.cfg.Mode == ModeBounded {
			return Selection{}, newFault(ErrNotBounded, fmt.Sprintf("collection %q is not bounded", name), nil)
		}
		s.cfg.Logger.Infof("collection %q is not bounded, using polling", name)
		return s.polling(coll, true)

	case s.cfg.Mode == ModeAuto && s.cfg.Capabilities.Unsupported(err):
		s.cfg.Logger.Infof("bounded collections unavailable for %q (%v), using polling", name, err)
		coll, err := s.openOrCreatePlain()
		if err != nil {
			return Selection{}, errors.Trace(err)
		}
		return s.polling(coll, true)
	}
	return Selection{}, errors.Annotatef(err, "creating bounded collection %q", name)
}

func (s *Selector) openOrCreatePlain() (store.Collection, error) {
	name := s.cfg.Name
	coll, err := s.cfg.Database.CreateCollection(name, store.CollectionOptions{})
	if err == nil {
		return coll, nil
	}
	if !errors.Is(err, errors.AlreadyExists) {
		return nil, errors.Annotatef(err, "creating collection %q", name)
	}
	coll, err = s.cfg.Database.OpenCollection(name)
	if err != nil {
		return nil, errors.Annotatef(err, "opening collection %q", name)
	}
	return coll, nil
}

func (s *Selector) polling(coll store.Collection, fallback bool) (Selection, error) {
	if err := EnsureRetention(coll, s.cfg.RetentionSeconds); err != nil {
		return Selection{}, errors.Trace(err)
	}
	return Selection{State: Polling, Collection: coll, Fallback: fallback}, nil
}
