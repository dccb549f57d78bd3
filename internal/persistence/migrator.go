package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator runs SQL migration files in order. Files follow the
// golang-migrate naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

// Migration is one applied migration as recorded in schema_migrations.
type Migration struct {
	Version  string
	Filename string
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Up applies all pending up-migrations in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied versions: %w", err)
	}
	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	ran := 0
	for _, f := range files {
		version := extractVersion(f)
		if applied[version] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(m.migrationsDir, f))
		if err != nil {
			return ran, fmt.Errorf("read migration %s: %w", f, err)
		}
		err = m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("exec migration %s: %w", f, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				version, f,
			); err != nil {
				return fmt.Errorf("record migration %s: %w", f, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran++
		m.logger.Info().Str("file", f).Msg("applied migration")
	}
	return ran, nil
}

// Down rolls back the last applied migration. Returns false when nothing
// was applied.
func (m *Migrator) Down(ctx context.Context) (bool, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return false, err
	}

	var last Migration
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&last.Version, &last.Filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("no migrations to roll back")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(last.Filename, ".up.sql", ".down.sql", 1)
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, downFile))
	if err != nil {
		return false, fmt.Errorf("read down migration %s: %w", downFile, err)
	}
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec down migration %s: %w", downFile, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, last.Version,
		); err != nil {
			return fmt.Errorf("remove migration record %s: %w", last.Version, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	m.logger.Info().Str("file", downFile).Msg("rolled back migration")
	return true, nil
}

// Status lists applied migrations and pending up-files.
func (m *Migrator) Status(ctx context.Context) (applied []Migration, pending []string, err error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, nil, err
	}
	rows, err := m.db.QueryContext(ctx, `SELECT version, filename FROM public.schema_migrations ORDER BY version`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var mg Migration
		if err := rows.Scan(&mg.Version, &mg.Filename); err != nil {
			return nil, nil, err
		}
		applied = append(applied, mg)
		done[mg.Version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, nil, err
	}
	for _, f := range files {
		if !done[extractVersion(f)] {
			pending = append(pending, f)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	return listMigrations(m.migrationsDir, suffix)
}

func listMigrations(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration file name,
// e.g. "000001_trade_archive.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
