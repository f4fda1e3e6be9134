// Package migrations embeds the SQL schema so the binary can migrate without
// a migrations directory on disk.
package migrations

import "embed"

// FS holds the *.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
