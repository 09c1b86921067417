// Package appfs embeds the static files shipped with the binaries.
package appfs

import "embed"

// FS holds the database migrations, email templates, the default evaluation catalog and other assets.
//
//go:embed migrations/*.sql templates/email/* catalog/*.yaml assets/*
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
	DefaultCatalog    = "catalog/default.yaml"
	CommonPasswords   = "assets/common-passwords.txt.gz"
)
