// Package database opens and migrates the SQLite store behind Smarthome
// Core.
//
// A single *DB is shared by every repository. WAL mode keeps readers
// from queueing behind the single writer, the busy timeout absorbs
// short lock contention, and foreign keys are enforced at the
// connection level. Schema changes ship as embedded *.up.sql files (see
// the migrations package) and are applied by Migrate on startup.
//
// The database file holds password hashes and session tokens, so it is
// created owner read/write only.
package database
