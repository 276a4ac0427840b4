// Package apperr defines sentinel errors shared across notemill packages.
package apperr

import "errors"

var (
	// ErrNotFound reports a lookup miss (note, resource, manifest entry).
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID reports a source that violates run-wide ID uniqueness.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrUnknownFormat reports a source format with no registered parser.
	ErrUnknownFormat = errors.New("unknown source format")
)
