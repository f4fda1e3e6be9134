package db

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/cyfrying/foodtruck/migrations"
)

const migrationsLogPrefix = "db:migrations"

// LoadMigrations returns the migrations in dir, or the embedded set when dir is empty.
func LoadMigrations(dir string) ([]string, error) {
	if dir == "" {
		out, err := LoadMigrationsFS(migrations.FS, ".")
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read embedded migrations: %w", migrationsLogPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded %d embedded migration files", migrationsLogPrefix, len(out)))
		return out, nil
	}
	return LoadMigrationFiles(dir)
}

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and returns their contents.
func LoadMigrationFiles(dir string) ([]string, error) {
	out, err := LoadMigrationsFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// LoadMigrationsFS reads all .sql files directly under dir in fsys, sorted by name.
func LoadMigrationsFS(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
