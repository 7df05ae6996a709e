// Package migrations embeds the job store schema for every SQL backend.
package migrations

import "embed"

// FS holds postgres/*.sql and sqlite/*.sql in golang-migrate naming.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
