package simulator

import "errors"

var (
	// ErrAuthRejected is returned by a backend that refuses the account.
	ErrAuthRejected = errors.New("simulator: credentials rejected")

	// ErrSessionClosed is returned when using a closed backend session.
	ErrSessionClosed = errors.New("simulator: session closed")

	// ErrNoBackend is returned by New when Config.Backend is nil.
	ErrNoBackend = errors.New("simulator: backend is required")
)
