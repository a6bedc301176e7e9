package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// DevMode reads migrations from DevMigrationsDir on disk instead of the
// copy compiled into the binary.
var DevMode = false

// DevMigrationsDir is the on-disk migrations directory used in DevMode,
// relative to the repository root.
var DevMigrationsDir = "internal/db/migrations"

// getMigrationsFS returns a filesystem whose root holds the migration files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		if _, err := os.Stat(DevMigrationsDir); err != nil {
			return nil, fmt.Errorf("dev migrations directory: %w", err)
		}
		return os.DirFS(DevMigrationsDir), nil
	}
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}
	return sub, nil
}

// MigrationsFS returns the migrations used by NewDB.
func MigrationsFS() (fs.FS, error) {
	return getMigrationsFS()
}
