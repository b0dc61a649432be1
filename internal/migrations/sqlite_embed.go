package migrations

import "embed"

// SQLite embeds the SQLite schema migrations.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
