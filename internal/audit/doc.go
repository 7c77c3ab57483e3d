// Package audit keeps a queryable journal of device commands in SQLite.
//
// Every command the dispatcher resolves, whether it succeeded over the
// cloud, over the radio fallback or not at all, becomes one entry. The
// journal complements the InfluxDB telemetry: InfluxDB answers "how often"
// while the journal answers "what happened to this lamp at 21:04".
//
// Recorder adapts a Repository to the dispatcher's Recorder interface.
package audit
