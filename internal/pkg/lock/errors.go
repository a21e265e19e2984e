package lock

import "errors"

// Lock-related errors.
var (
	// ErrSessionActive is returned when a client identity already holds
	// its lock and a second concurrent session is attempted.
	ErrSessionActive = errors.New("client already has an active session")
)
