// Package realtime fans device events out to connected WebSocket clients.
//
// Delivery is household-scoped: each client carries an immutable set of
// household ids resolved from the user's memberships when the connection
// is established, and Emit(event, householdID, payload) reaches only the
// clients whose set contains that household. Delivery is best-effort —
// a slow client's full buffer is skipped, never waited on, and there is
// no replay of missed events.
package realtime
