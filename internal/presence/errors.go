package presence

import "errors"

// Domain errors for the presence package.
var (
	// ErrUnsupportedEvent is returned for push events that are not
	// presence enter/exit events.
	ErrUnsupportedEvent = errors.New("presence: unsupported event")

	// ErrInvalidEvent is returned for presence events missing a user or room.
	ErrInvalidEvent = errors.New("presence: invalid event")

	// ErrNoUser is returned when a condition is evaluated before any account is logged in.
	ErrNoUser = errors.New("presence: no current user")
)
