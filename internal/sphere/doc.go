// Package sphere wires the bridge's caches together and keeps them fresh.
//
// A Service owns the refresh pipeline (Mirror.GetAll, then Mapper.MapAll,
// then the device reconciler), the poll timers, the credential lifecycle
// and the push session. Refreshes requested concurrently, from the API, the
// timers or push events, collapse into one pass.
package sphere
