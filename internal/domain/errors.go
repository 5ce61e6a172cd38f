package domain

import "errors"

var (
	// ErrInvalidRunMode marks an unknown or inconsistent (data, execution) pair.
	ErrInvalidRunMode = errors.New("domain: invalid run mode")
	// ErrLiveNotPermitted is returned when a live executor is requested for a mode that never submits.
	ErrLiveNotPermitted = errors.New("domain: live execution not permitted in this mode")
	// ErrUnauthorized wraps exchange authentication failures (401/403).
	ErrUnauthorized = errors.New("domain: exchange rejected credentials")
)
