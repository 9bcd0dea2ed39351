// Package device defines the device model and its SQLite persistence.
//
// Devices belong to exactly one household and carry an open-bag Data map
// plus a reachability Status (unknown, pending, online, offline). The
// Store's ApplyPatch primitive performs the atomic read-modify-write that
// both the command dispatcher and the status reconciler rely on: data keys
// merge last-write-wins in a single UPDATE, so concurrent patches to
// different keys never clobber each other.
package device
