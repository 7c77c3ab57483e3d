// Package mapper projects mirrored state into the FastCache.
//
// The FastCache is a pure function of three inputs: the current RawCache
// snapshot, the presence store entries and an overlay of device
// observations made since the last mirror (push ability changes, inferred
// command results). Observations older than the raw snapshot's fetch time
// are ignored, so a fresh mirror pass always wins over stale inferences.
package mapper
