// Package mirror pulls the account's remote state into the RawCache.
//
// Each GetAll pass builds a complete Snapshot and publishes it with a single
// atomic pointer store, so readers always see one whole generation. Passes
// are not cancelled when credentials change; a later pass supersedes them.
//
// GetPresence feeds poll results into the presence store through the same
// monotonic merge push events use.
package mirror
