// Package migrations holds the SQLite schema applied by goose at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
