// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const publishDoc = `
Publish an event on a channel. A payload that is valid JSON is
published as the value it encodes, a number, a list or an object.
Anything else is published as a plain string.

Examples:

    mubsub publish jobs started '{"id": 42, "host": "web-1"}'
    mubsub publish --memory --mode polling jobs done 42
`

func newPublishCommand(open databaseOpener) cmd.Command {
	c := &publishCommand{}
	c.open = open
	return c
}

// publishCommand inserts one envelope and prints its identifier.
type publishCommand struct {
	channelCommand
	out cmd.Output

	event   string
	payload interface{}
	timeout time.Duration
}

// Info implements Command.Info.
func (c *publishCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "publish",
		Args:    "<channel> <event> <payload>",
		Purpose: "Publish an event on a channel.",
		Doc:     publishDoc,
	}
}

// SetFlags implements Command.SetFlags.
func (c *publishCommand) SetFlags(f *gnuflag.FlagSet) {
	c.channelCommand.SetFlags(f)
	f.DurationVar(&c.timeout, "timeout", 30*time.Second, "How long to wait for the publish to complete")
	c.out.AddFlags(f, "smart", map[string]cmd.Formatter{
		"smart": cmd.FormatSmart,
		"yaml":  cmd.FormatYaml,
		"json":  cmd.FormatJson,
	})
}

// Init implements Command.Init.
func (c *publishCommand) Init(args []string) error {
	args, err := c.initChannel(args)
	if err != nil {
		return errors.Trace(err)
	}
	switch len(args) {
	case 0:
		return errors.New("no event specified")
	case 1:
		return errors.New("no payload specified")
	}
	c.event = args[0]
	c.payload = parsePayload(args[1])
	return cmd.CheckEmpty(args[2:])
}

// Run implements Command.Run.
func (c *publishCommand) Run(ctx *cmd.Context) error {
	ch, cleanup, err := c.openChannel(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	pctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	id, err := ch.Publish(pctx, c.event, c.payload)
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, id.String())
}

// parsePayload decodes arg as JSON, keeping integers as int64, and
// falls back to arg itself when it is not JSON.
func parsePayload(arg string) interface{} {
	decoder := json.NewDecoder(bytes.NewReader([]byte(arg)))
	decoder.UseNumber()
	var payload interface{}
	if err := decoder.Decode(&payload); err != nil || decoder.More() {
		return arg
	}
	return numbers(payload)
}

func numbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		for key, value := range v {
			v[key] = numbers(value)
		}
	case []interface{}:
		for i, value := range v {
			v[i] = numbers(value)
		}
	}
	return v
}
