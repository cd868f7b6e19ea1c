package migrations

import "embed"

// FS contains the embedded gallery schema.
//
//go:embed *.sql
var FS embed.FS
