// Package migrations embeds the SQL schema so binaries carry it.
package migrations

import "embed"

// FS holds {version}_{name}.up.sql / .down.sql files.
//
//go:embed *.sql
var FS embed.FS
