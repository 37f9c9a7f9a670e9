// Package migrations embeds the versioned SQL schema for every supported dialect.
package migrations

import "embed"

// FS holds one directory per dialect (postgres, sqlite) of NNN_title.up.sql / .down.sql files.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
