// Package command dispatches device commands.
//
// Switch commands go cloud first. A recoverable cloud failure is followed by
// exactly one radio attempt: ensure keys, discover (bounded), connect, load
// keys, switch, disconnect. Dim commands are cloud only.
//
// The decision to fall back is nextStage, a pure function of the stage that
// just ran and its Outcome.
//
// One switch and one dim command may be in flight at a time across all
// devices. Overlapping requests are dropped and report ErrInFlight so the
// caller can tell the user.
package command
