// Package db provides the embedded database migrations.
package db

import "embed"

// MigrationsDir is the directory of Migrations holding the versioned files.
const MigrationsDir = "migrations"

// Migrations contains golang-migrate up/down files for the shipping schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS
