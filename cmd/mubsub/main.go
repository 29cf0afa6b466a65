// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"

	mubsubcmd "github.com/juju/mubsub/cmd"
)

var mubsubDoc = `
mubsub publishes and receives events on broadcast channels kept in
MongoDB. Every process naming the same channel on the same database
sees the events published on it from the moment it joins.

A channel is backed by a capped collection where the server allows
one, and by a polled plain collection otherwise.
`

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(NewMubsubCommand(), ctx, os.Args[1:]))
}

// NewMubsubCommand returns the mubsub super command with its
// subcommands registered.
func NewMubsubCommand() cmd.Command {
	return newMubsubCommand(newDatabase)
}

func newMubsubCommand(open databaseOpener) *cmd.SuperCommand {
	mcmd := mubsubcmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "mubsub",
		Purpose: "Publish and subscribe over MongoDB collections.",
		Doc:     mubsubDoc,
	})
	mcmd.Register(newPublishCommand(open))
	mcmd.Register(newSubscribeCommand(open))
	mcmd.Register(newStatusCommand(open))
	return mcmd
}
