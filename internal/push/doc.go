// Package push consumes the cloud's push-event stream over a WebSocket.
//
// A Session delivers decoded Events to one Handler, reconnecting with
// exponential backoff when the stream drops. Sessions are stopped
// explicitly; a credential change stops the old session before the next
// one is opened.
package push
