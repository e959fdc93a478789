// Package migrations embeds the goose migration set applied by
// pkg/database.RunMigrations at startup.
package migrations

import "embed"

//go:embed postgres/*.sql
var FS embed.FS
