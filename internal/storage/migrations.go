package storage

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

const migrationsTable = "schema_migrations"

// Migration is one versioned schema change. Statements are generated per
// dialect, so the checksum is taken over the rendered SQL.
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// Checksum returns the MD5 of the migration's rendered statements.
func (m Migration) Checksum() string {
	return calculateChecksum(strings.Join(m.Statements, ";\n"))
}

// MigrationRunner applies migrations through a Backend and records them in
// schema_migrations.
type MigrationRunner struct {
	backend    Backend
	migrations []Migration
}

func NewMigrationRunner(backend Backend, migrations []Migration) *MigrationRunner {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &MigrationRunner{backend: backend, migrations: sorted}
}

// Migrate applies all pending migrations in version order.
func (mr *MigrationRunner) Migrate(ctx context.Context) error {
	if err := mr.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range mr.migrations {
		if err := mr.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (mr *MigrationRunner) createMigrationsTable(ctx context.Context) error {
	schema := mr.backend.PrepareCreateTable(migrationsTable, []Column{
		{Name: "version", Kind: HashColumn},
		{Name: "name", Kind: BlobColumn},
		{Name: "checksum", Kind: HashColumn},
		{Name: "applied_at", Kind: Uint64Column},
	}, []string{"version"})

	_, _, err := mr.backend.Query(ctx, schema.Table)
	return err
}

func (mr *MigrationRunner) applyMigration(ctx context.Context, migration Migration) error {
	checksum := migration.Checksum()

	_, rows, err := mr.backend.Query(ctx,
		"SELECT checksum FROM "+migrationsTable+" WHERE version = ?", migration.Version)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if len(rows) > 0 {
		if existing := rows[0].String("checksum"); existing != checksum {
			return fmt.Errorf(
				"checksum mismatch for migration %s: expected %s, got %s",
				migration.Version,
				existing,
				checksum,
			)
		}
		return nil
	}

	stmts := make([]Statement, 0, len(migration.Statements)+1)
	for _, query := range migration.Statements {
		stmts = append(stmts, Statement{Query: query})
	}
	stmts = append(stmts, Statement{
		Query: "INSERT INTO " + migrationsTable + " (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		Args:  []interface{}{migration.Version, migration.Name, checksum, nowMillis()},
	})

	// MySQL commits DDL implicitly; the recorded row is still written last so a
	// failed migration is retried on the next start.
	if err := mr.backend.Transaction(ctx, stmts); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	return nil
}

func calculateChecksum(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}
