package mirror

import "errors"

var (
	// ErrFetch wraps a failed remote sub-resource fetch during a mirror pass.
	ErrFetch = errors.New("mirror: fetch failed")

	// ErrNotLoggedIn is returned by passes started before a successful Login.
	ErrNotLoggedIn = errors.New("mirror: not logged in")
)
