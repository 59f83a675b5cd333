// Package migrations embeds the goose migrations of the Postgres remote.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
