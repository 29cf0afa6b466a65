// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mgostore

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/mgo/v3"
	"github.com/juju/retry"
)

var logger = loggo.GetLogger("mubsub.mgostore")

const (
	defaultDialTimeout  = 10 * time.Second
	defaultDialAttempts = 5
	defaultDialDelay    = time.Second
)

// DialConfig describes how to reach the MongoDB server.
type DialConfig struct {
	// Addrs holds the server addresses, host:port.
	Addrs []string

	// Database is the database holding the channel collections.
	Database string

	// Username and Password, if set, are used to authenticate
	// against Database.
	Username string
	Password string

	// Timeout bounds each dial attempt.
	Timeout time.Duration

	// Attempts and Delay control retrying an unreachable server.
	Attempts int
	Delay    time.Duration

	// Clock is used between attempts.
	Clock clock.Clock
}

// Validate ensures the config is usable.
func (cfg DialConfig) Validate() error {
	if len(cfg.Addrs) == 0 {
		return errors.NotValidf("missing Addrs")
	}
	if cfg.Database == "" {
		return errors.NotValidf("missing Database")
	}
	return nil
}

func (cfg DialConfig) withDefaults() DialConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDialTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultDialAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDialDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return cfg
}

// Dial connects to MongoDB, retrying while the server is unreachable,
// and returns the Database. The caller must Close it.
func Dial(cfg DialConfig) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cfg = cfg.withDefaults()

	info := &mgo.DialInfo{
		Addrs:    cfg.Addrs,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}
	var session *mgo.Session
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			session, err = mgo.DialWithInfo(info)
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("dial attempt %d to %v failed: %v", attempt, cfg.Addrs, err)
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.Delay,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, errors.Annotatef(retry.LastError(err), "dialing %v", cfg.Addrs)
	}
	defer session.Close()

	logger.Debugf("connected to %v, database %q", cfg.Addrs, cfg.Database)
	return NewDatabase(session, cfg.Database), nil
}
