// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"gopkg.in/yaml.v2"

	"github.com/juju/mubsub/channel"
	"github.com/juju/mubsub/store"
	"github.com/juju/mubsub/store/memstore"
	"github.com/juju/mubsub/store/mgostore"
)

var logger = loggo.GetLogger("mubsub.cmd.mubsub")

// connection describes the store named on the command line.
type connection struct {
	addrs    []string
	database string
	memory   bool
}

// databaseOpener returns the database for a connection and a func to
// release it.
type databaseOpener func(connection) (store.Database, func(), error)

func newDatabase(conn connection) (store.Database, func(), error) {
	if conn.memory {
		return memstore.NewDatabase(memstore.Options{}), func() {}, nil
	}
	db, err := mgostore.Dial(mgostore.DialConfig{
		Addrs:    conn.addrs,
		Database: conn.database,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return db, db.Close, nil
}

// channelCommand is the base of the commands acting on one channel.
type channelCommand struct {
	cmd.CommandBase
	open databaseOpener

	channelName  string
	mongo        string
	database     string
	memory       bool
	configFile   cmd.FileVar
	mode         string
	size         string
	sizeBytes    uint64
	max          int64
	pollInterval time.Duration
}

// SetFlags implements Command.SetFlags.
func (c *channelCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.mongo, "mongo", "localhost:27017", "Comma separated addresses of the MongoDB servers")
	f.StringVar(&c.database, "db", "mubsub", "The database holding the channel collections")
	f.BoolVar(&c.memory, "memory", false, "Use a store local to this process instead of MongoDB")
	f.Var(&c.configFile, "config", "Path to a yaml file of channel attributes")
	f.StringVar(&c.mode, "mode", "", "The transport: auto, bounded or polling")
	f.StringVar(&c.size, "size", "", "The size of a new bounded collection, such as 5MiB")
	f.Int64Var(&c.max, "max", 0, "The maximum number of envelopes in a new bounded collection")
	f.DurationVar(&c.pollInterval, "poll-interval", 0, "The time between polls of a plain collection")
}

// initChannel takes the channel name from args and returns the rest.
func (c *channelCommand) initChannel(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("no channel specified")
	}
	c.channelName = args[0]
	if c.size != "" {
		n, err := humanize.ParseBytes(c.size)
		if err != nil {
			return nil, errors.NotValidf("size %q", c.size)
		}
		c.sizeBytes = n
	}
	if c.max < 0 {
		return nil, errors.NotValidf("max %d", c.max)
	}
	return args[1:], nil
}

// attrs returns the channel attributes from the config file overlaid
// with those given as flags.
func (c *channelCommand) attrs(ctx *cmd.Context) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})
	if c.configFile.Path != "" {
		data, err := c.configFile.Read(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Annotatef(err, "parsing %s", c.configFile.Path)
		}
	}
	if c.mode != "" {
		attrs[channel.ModeKey] = c.mode
	}
	if c.sizeBytes > 0 {
		attrs[channel.SizeKey] = int64(c.sizeBytes)
	}
	if c.max > 0 {
		attrs[channel.MaxKey] = c.max
	}
	if c.pollInterval > 0 {
		attrs[channel.PollIntervalKey] = int64(c.pollInterval / time.Millisecond)
	}
	return attrs, nil
}

// openChannel starts the named channel. The returned func stops it and
// releases the database.
func (c *channelCommand) openChannel(ctx *cmd.Context) (*channel.Channel, func(), error) {
	attrs, err := c.attrs(ctx)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	db, release, err := c.open(connection{
		addrs:    strings.Split(c.mongo, ","),
		database: c.database,
		memory:   c.memory,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	registry, err := channel.NewRegistry(channel.Params{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		release()
		return nil, nil, errors.Trace(err)
	}
	cleanup := func() {
		if err := worker.Stop(registry); err != nil {
			logger.Debugf("stopping channels: %v", err)
		}
		release()
	}
	ch, err := registry.Channel(c.channelName, attrs)
	if err != nil {
		cleanup()
		return nil, nil, errors.Trace(err)
	}
	return ch, cleanup, nil
}

// waitReady waits for ch to be ready, to die, or for timeout to pass.
func waitReady(ch *channel.Channel, timeout time.Duration) error {
	select {
	case <-ch.Ready():
		return nil
	case <-ch.Dead():
		err := ch.Wait()
		if err == nil {
			err = channel.ErrClosed
		}
		return errors.Annotatef(err, "channel %q", ch.Name())
	case <-clock.WallClock.After(timeout):
		return errors.Timeoutf("waiting for channel %q", ch.Name())
	}
}
