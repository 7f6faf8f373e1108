package cov

import "errors"

// ErrCapacityExceeded is returned by Subscribe when the manager already
// holds max_subscriptions distinct identities and the request is not a
// renewal of an existing one.
var ErrCapacityExceeded = errors.New("capacity_exceeded")
