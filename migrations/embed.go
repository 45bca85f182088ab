// Package migrations holds the per-clinic schema, applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
