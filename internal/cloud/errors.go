package cloud

import "errors"

// Domain errors for the cloud package.
//
//	if errors.Is(err, cloud.ErrAuth) {
//	    // bad or missing credentials
//	}
var (
	// ErrAuth is returned when login fails: bad credentials or an
	// unreachable service.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrNotLoggedIn is returned by calls that need a session before Login succeeded.
	ErrNotLoggedIn = errors.New("cloud: not logged in")

	// ErrRequest is returned when a REST call fails or returns a non-2xx status.
	ErrRequest = errors.New("cloud: request failed")
)
