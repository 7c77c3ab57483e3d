// Package presence tracks where users are and fires room triggers.
//
// Store is the single place presence changes land. Push events (through
// Handler.ApplyEvent) and poll results (through the mirror) are merged with
// one rule: an update older than the stored entry for the same user is
// discarded. Accepted updates bump Store.Version, which the mapper uses to
// decide whether a projection is stale.
//
// Exit events clear a user's room but never fire triggers. Enter events fire
// every trigger whose room id and room name both equal the event's room.
//
// SQLiteRepository journals accepted updates so presence survives restarts.
package presence
