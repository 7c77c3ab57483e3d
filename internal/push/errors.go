package push

import "errors"

var (
	// ErrNoToken is returned when a session is opened without an access token.
	ErrNoToken = errors.New("push: access token required")

	// ErrDial is returned when the stream cannot be reached.
	ErrDial = errors.New("push: dial failed")
)
