package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidReply is returned when a reply references a message outside
	// the target channel. Rejected, never silently dropped.
	ErrInvalidReply = errors.New("reply references a message in another channel")
)
