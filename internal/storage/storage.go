// Package storage defines the errors shared by the feed store backends.
package storage

import "errors"

var (
	// ErrNotFound is returned when no record exists for a
	// (destination, feed name) pair.
	ErrNotFound = errors.New("feed record not found")

	// ErrAlreadyExists is returned by Create when the feed name is taken
	// for the destination.
	ErrAlreadyExists = errors.New("feed record already exists")
)
