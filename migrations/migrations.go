// Package migrations embeds the PostgreSQL schema applied by `salelink db migrate`.
package migrations

import "embed"

// FS holds the numbered .sql files.
//
//go:embed *.sql
var FS embed.FS
