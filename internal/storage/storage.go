package storage

import "errors"

var (
	// ErrEventExists marks a row whose id is already persisted. Upstream
	// redelivers at least once, so the sink treats this as expected and
	// absorbs it; everything else is a hard failure.
	ErrEventExists = errors.New("event already exists")
)
