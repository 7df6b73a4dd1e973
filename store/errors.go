package store

import "errors"

// ErrNotFound is returned by Fetch* methods when no record exists for the
// given key.
var ErrNotFound = errors.New("store: not found")
