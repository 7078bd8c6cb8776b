package store

import "errors"

var (
	// ErrNotFound is returned when a record id has no row.
	ErrNotFound = errors.New("record not found")
	// ErrStaleVersion is returned when a save carries a version older
	// than the stored one.
	ErrStaleVersion = errors.New("stale record version")
)
