// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import "strings"

// Mode selects which transport a channel uses.
type Mode string

const (
	// ModeAuto prefers the bounded transport, falling back to polling
	// when the store cannot provide it.
	ModeAuto Mode = "auto"

	// ModeBounded requires the bounded transport.
	ModeBounded Mode = "bounded"

	// ModePolling uses the polling transport.
	ModePolling Mode = "polling"
)

// ParseMode returns the mode named by s. Unrecognised values give
// ModeAuto and ok is false.
func ParseMode(s string) (mode Mode, ok bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeBounded, ModePolling:
		return m, true
	}
	return ModeAuto, false
}
