// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"fmt"
	"time"

	"github.com/juju/mubsub/store"
)

// RetentionIndexName is the name of the expiry index kept on polling
// collections. It is fixed so repeated opens converge on one index.
const RetentionIndexName = store.InsertedAtField + "_ttl"

// EnsureRetention establishes the expiry index for a polling collection
// when retentionSeconds is positive. Otherwise it does nothing.
func EnsureRetention(coll store.Collection, retentionSeconds int) error {
	if retentionSeconds <= 0 {
		return nil
	}
	expireAfter := time.Duration(retentionSeconds) * time.Second
	if err := coll.EnsureExpiryIndex(store.InsertedAtField, expireAfter, RetentionIndexName); err != nil {
		return newFault(ErrRetention, fmt.Sprintf("ensuring %v retention on %q", expireAfter, coll.Name()), err)
	}
	return nil
}
