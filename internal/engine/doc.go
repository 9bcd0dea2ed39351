// Package engine implements the device state synchronisation engine.
//
// Two halves, coupled only through the device store and the MQTT bus:
//
//   - Dispatcher turns an authorised HTTP patch into a published command
//     and an optimistic pending status.
//   - Reconciler ingests asynchronous device status reports from a single
//     wildcard subscription, merges them into the store, and resolves
//     pending.
//
// Both emit device:update events to the household's realtime group after
// every successful mutation. There is no request/response contract with
// the physical device: a dispatched command may never be confirmed, and
// pending has no timeout.
package engine
