// Package db embeds the goose migration set that creates and upgrades
// the pgtrickle/pgtrickle_changes catalog schemas, following the
// teacher's pkg/fixgres_demo embed-then-hand-to-goose pattern.
package db

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS
