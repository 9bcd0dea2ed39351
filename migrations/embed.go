// Package migrations ships the SQL schema with the binary.
//
// Each file is named YYYYMMDD_HHMMSS_description.up.sql; the timestamp
// prefix fixes the order they apply in. database.Migrate consumes Files
// at startup, so a deployment never depends on loose .sql files sitting
// next to the executable.
package migrations

import "embed"

// Files holds every migration compiled into the server.
//
//go:embed *.sql
var Files embed.FS
