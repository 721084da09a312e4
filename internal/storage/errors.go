package storage

import "errors"

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")
