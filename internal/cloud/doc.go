// Package cloud is the bridge's client for the remote smart-plug cloud.
//
// Client is the interface the rest of the bridge consumes; RESTClient is the
// HTTP implementation. Login stores the session (user id and access token)
// used by every later call.
//
// Errors:
//   - ErrAuth: login failed (bad credentials or unreachable service)
//   - ErrNotLoggedIn: a call was made before a successful login
//   - ErrRequest: transport failure or non-2xx response (see StatusError)
package cloud
