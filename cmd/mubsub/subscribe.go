// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/mubsub/store"
)

const subscribeDoc = `
Print the events published on a channel from now on, one per line as
the event name followed by the payload in JSON. With no event names,
every named event is printed.

The command runs until interrupted, or until --count events have been
printed.

Examples:

    mubsub subscribe jobs
    mubsub subscribe --count 1 jobs done
`

func newSubscribeCommand(open databaseOpener) cmd.Command {
	c := &subscribeCommand{}
	c.open = open
	return c
}

// subscribeCommand prints envelopes as they arrive.
type subscribeCommand struct {
	channelCommand

	events  []string
	count   int
	timeout time.Duration

	// ready, if set, is called once the channel is ready.
	ready func()
}

// Info implements Command.Info.
func (c *subscribeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "subscribe",
		Args:    "<channel> [<event> ...]",
		Purpose: "Print the events published on a channel.",
		Doc:     subscribeDoc,
	}
}

// SetFlags implements Command.SetFlags.
func (c *subscribeCommand) SetFlags(f *gnuflag.FlagSet) {
	c.channelCommand.SetFlags(f)
	f.IntVar(&c.count, "count", 0, "Stop after printing this many events")
	f.DurationVar(&c.timeout, "timeout", 30*time.Second, "How long to wait for the channel to be ready")
}

// Init implements Command.Init.
func (c *subscribeCommand) Init(args []string) error {
	args, err := c.initChannel(args)
	if err != nil {
		return errors.Trace(err)
	}
	if c.count < 0 {
		return errors.NotValidf("count %d", c.count)
	}
	c.events = args
	return nil
}

// Run implements Command.Run.
func (c *subscribeCommand) Run(ctx *cmd.Context) error {
	ch, cleanup, err := c.openChannel(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	done := make(chan struct{})
	defer close(done)
	envelopes := make(chan store.Envelope)
	handler := func(env store.Envelope) {
		select {
		case envelopes <- env:
		case <-done:
		}
	}
	if len(c.events) == 0 {
		ch.Subscribe("", handler)
	}
	for _, event := range c.events {
		ch.Subscribe(event, handler)
	}

	if err := waitReady(ch, c.timeout); err != nil {
		return errors.Trace(err)
	}
	if c.ready != nil {
		c.ready()
	}

	interrupted := make(chan os.Signal, 1)
	ctx.InterruptNotify(interrupted)
	defer ctx.StopInterruptNotify(interrupted)

	for printed := 0; c.count == 0 || printed < c.count; printed++ {
		select {
		case env := <-envelopes:
			var payload bytes.Buffer
			if err := cmd.FormatJson(&payload, env.Payload); err != nil {
				return errors.Annotatef(err, "formatting %s", env.ID)
			}
			fmt.Fprintf(ctx.Stdout, "%s %s\n", env.Event, bytes.TrimSpace(payload.Bytes()))
		case <-interrupted:
			ctx.Infof("interrupted")
			return nil
		case <-ch.Dead():
			return errors.Annotatef(ch.Wait(), "channel %q", ch.Name())
		}
	}
	return nil
}
