package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate brings the schema up to date, applying embedded migrations in
// filename order. Each file runs in its own transaction together with the
// schema_migrations row recording it, so a failed migration leaves no trace.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	ran := 0
	for _, name := range names {
		version, _, _ := strings.Cut(name, "_")
		if applied[version] {
			continue
		}
		if err := apply(db, name, version); err != nil {
			return err
		}
		if logger != nil {
			logger.Infow("Applied migration", "migration", name)
		}
		ran++
	}

	if logger != nil {
		logger.Debugw("Schema up to date", "applied", ran, "total", len(names))
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded migrations")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// appliedVersions reads the versions already recorded. A missing
// schema_migrations table means a fresh database; migration 000 creates it.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return applied, nil
		}
		return nil, errors.Wrap(err, "failed to read schema_migrations")
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func apply(db *sql.DB, name, version string) error {
	ddl, err := migrationFS.ReadFile(migrationDir + "/" + name)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", name)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", name)
	}
	if _, err := tx.Exec(string(ddl)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to execute migration %s", name)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to record migration %s", name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit migration %s", name)
	}
	return nil
}
