package sphere

import "errors"

// ErrCredentials is returned when credentials are set without an email or
// password.
var ErrCredentials = errors.New("sphere: email and password required")
