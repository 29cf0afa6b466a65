// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/mubsub/store"
)

// CapabilityRule recognises an error signalling that the store cannot
// provide bounded collections or tailing cursors. A rule matches when
// the error code is one of Codes (if any are given) and the error text
// contains every one of Keywords, ignoring case.
type CapabilityRule struct {
	Codes    set.Ints
	Keywords []string
}

func (r CapabilityRule) matches(code int, hasCode bool, text string) bool {
	if len(r.Codes) == 0 && len(r.Keywords) == 0 {
		return false
	}
	if len(r.Codes) > 0 && (!hasCode || !r.Codes.Contains(code)) {
		return false
	}
	for _, keyword := range r.Keywords {
		if !strings.Contains(text, strings.ToLower(keyword)) {
			return false
		}
	}
	return true
}

// CapabilityTable is an ordered list of rules. Any matching rule makes
// an error a capability gap.
type CapabilityTable []CapabilityRule

// DefaultCapabilityTable holds the known signatures of servers and
// emulations without capped collections or tailable cursors.
var DefaultCapabilityTable = CapabilityTable{
	// CommandNotSupported, NotImplemented.
	{Codes: set.NewInts(115, 238)},
	{Keywords: []string{"capped", "not supported"}},
	{Keywords: []string{"capped", "unsupported"}},
	{Keywords: []string{"capped", "not implemented"}},
	{Keywords: []string{"tailable", "not supported"}},
	{Keywords: []string{"tailable cursor requested on non capped collection"}},
	{Keywords: []string{"awaitdata", "not supported"}},
}

// With returns a copy of the table with rules appended.
func (t CapabilityTable) With(rules ...CapabilityRule) CapabilityTable {
	result := make(CapabilityTable, 0, len(t)+len(rules))
	result = append(result, t...)
	return append(result, rules...)
}

// Unsupported reports whether err shows a missing capability rather
// than some other failure.
func (t CapabilityTable) Unsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrCapabilityUnsupported) {
		return true
	}
	var (
		code    int
		hasCode bool
		cmdErr  *store.CommandError
	)
	if errors.As(err, &cmdErr) {
		code, hasCode = cmdErr.Code, cmdErr.Code != 0
	}
	text := strings.ToLower(err.Error())
	for _, rule := range t {
		if rule.matches(code, hasCode, text) {
			return true
		}
	}
	return false
}
