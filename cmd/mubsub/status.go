// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/mubsub/transport"
)

const statusDoc = `
Open a channel, wait for it to be ready and report the transport it
settled on along with its watermark and counters.

Examples:

    mubsub status jobs
    mubsub status --format json --mode polling jobs
`

func newStatusCommand(open databaseOpener) cmd.Command {
	c := &statusCommand{}
	c.open = open
	return c
}

// statusCommand prints a channel's report.
type statusCommand struct {
	channelCommand
	out cmd.Output

	timeout time.Duration
}

// Info implements Command.Info.
func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "status",
		Args:    "<channel>",
		Purpose: "Report the state of a channel.",
		Doc:     statusDoc,
	}
}

// SetFlags implements Command.SetFlags.
func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	c.channelCommand.SetFlags(f)
	f.DurationVar(&c.timeout, "timeout", 30*time.Second, "How long to wait for the channel to be ready")
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
	})
}

// Init implements Command.Init.
func (c *statusCommand) Init(args []string) error {
	args, err := c.initChannel(args)
	if err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

// Run implements Command.Run.
func (c *statusCommand) Run(ctx *cmd.Context) error {
	ch, cleanup, err := c.openChannel(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	if err := waitReady(ch, c.timeout); err != nil {
		return errors.Trace(err)
	}
	report := ch.Report()
	config := ch.Config()
	if ch.State() == transport.Bounded {
		report["size"] = humanize.IBytes(uint64(config.Size))
	} else {
		report["poll-interval"] = config.PollInterval.String()
		if config.RetentionSeconds > 0 {
			report["retention"] = (time.Duration(config.RetentionSeconds) * time.Second).String()
		}
	}
	return c.out.Write(ctx, report)
}
