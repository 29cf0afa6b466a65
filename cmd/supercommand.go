// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd holds the pieces shared by the mubsub commands.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"
)

// Version is the current mubsub version.
const Version = "0.1.0"

const (
	// LoggingConfigEnvKey holds the default logging configuration of a
	// command.
	LoggingConfigEnvKey = "MUBSUB_LOGGING_CONFIG"

	// StartupLoggingConfigEnvKey holds the logging configuration used
	// before a command has parsed its flags.
	StartupLoggingConfigEnvKey = "MUBSUB_STARTUP_LOGGING_CONFIG"
)

func init() {
	// If the environment key is empty, ConfigureLoggers returns nil and does
	// nothing.
	err := loggo.ConfigureLoggers(os.Getenv(StartupLoggingConfigEnvKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR parsing %s: %s\n\n", StartupLoggingConfigEnvKey, err)
	}
}

var logger = loggo.GetLogger("mubsub.cmd")

// NewSuperCommand is like cmd.NewSuperCommand but
// it adds mubsub-specific functionality:
// - The default logging configuration is taken from the environment;
// - The version is configured to the current mubsub version;
// - The command emits a log message when a command runs.
func NewSuperCommand(p cmd.SuperCommandParams) *cmd.SuperCommand {
	p.Log = &cmd.Log{
		DefaultConfig: os.Getenv(LoggingConfigEnvKey),
	}
	p.Version = Version
	p.NotifyRun = runNotifier
	return cmd.NewSuperCommand(p)
}

func runNotifier(name string) {
	logger.Infof("running %s [%s %s %s]", name, Version, runtime.Compiler, runtime.Version())
}
