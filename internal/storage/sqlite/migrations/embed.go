package migrations

import "embed"

// FS contains the embedded blob-store migrations.
//
//go:embed *.sql
var FS embed.FS
