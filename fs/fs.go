// Package appfs embeds the SQL migrations and static assets into the binaries.
package appfs

import "embed"

//go:embed migrations all:assets
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "assets/templates/email"
	CommonPasswordsGz = "assets/common-passwords.txt.gz"
)
