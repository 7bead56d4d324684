package domain

import "errors"

var (
	// ErrValidation marks input errors rejected before any row is written.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state transitions that lost to a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrDispatchAborted marks a fan-out that could not run at all. The alert
	// is left in SENDING with unfinalized counters.
	ErrDispatchAborted = errors.New("dispatch aborted")
)
