package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

func (m migration) String() string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}

// migrator applies the embedded SQL migrations in version order and
// records each one in schema_migrations.
type migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger *log.Logger
}

func runMigrations(db *sql.DB, logger *log.Logger) error {
	m := &migrator{db: db, fsys: migrationsFS, logger: logger}
	return m.run()
}

func (m *migrator) run() error {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	pending, err := m.load()
	if err != nil {
		return err
	}

	if err := m.bootstrapLegacy(pending); err != nil {
		return err
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return err
	}

	for _, mig := range pending {
		if applied[mig.version] {
			continue
		}
		if err := m.apply(mig); err != nil {
			return err
		}
		m.logger.Info("applied migration", "migration", mig.String())
	}

	return nil
}

func (m *migrator) load() ([]migration, error) {
	names, err := fs.Glob(m.fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		version, label, err := parseMigrationFilename(path.Base(name))
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migrations = append(migrations, migration{version: version, name: label, sql: string(content)})
	}

	slices.SortFunc(migrations, func(a, b migration) int { return a.version - b.version })

	for i := 1; i < len(migrations); i++ {
		if migrations[i].version == migrations[i-1].version {
			return nil, fmt.Errorf("duplicate migration version: %d", migrations[i].version)
		}
	}

	return migrations, nil
}

// parseMigrationFilename splits "<version>_<name>.sql".
func parseMigrationFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	prefix, name, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("invalid migration filename %q: expected '<version>_<name>.sql'", filename)
	}

	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %q: %w", filename, err)
	}

	return version, name, nil
}

func (m *migrator) appliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}

	return versions, rows.Err()
}

// apply runs one migration and records it atomically.
func (m *migrator) apply(mig migration) error {
	return m.inTx(mig.String(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", mig, err)
		}
		return recordMigration(tx, mig)
	})
}

func recordMigration(tx *sql.Tx, mig migration) error {
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, mig.version, mig.name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig, err)
	}
	return nil
}

func (m *migrator) inTx(label string, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", label, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", label, err)
	}
	return nil
}

// bootstrapLegacy records the baseline for databases whose tasks table
// predates schema_migrations, so it is not created twice.
func (m *migrator) bootstrapLegacy(migrations []migration) error {
	var count int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count existing migrations: %w", err)
	}
	if count > 0 {
		return nil
	}

	hasTasks, err := schemaObjectExists(m.db, "table", "tasks")
	if err != nil || !hasTasks {
		return err
	}

	columns, err := tableColumns(m.db, "tasks")
	if err != nil {
		return err
	}
	for _, want := range []string{"id", "text", "completed", "sort_order"} {
		if !slices.Contains(columns, want) {
			return fmt.Errorf("unrecognized legacy tasks table: missing column %q", want)
		}
	}

	baseline := 1
	hasCompletedIndex, err := schemaObjectExists(m.db, "index", "idx_tasks_completed_sort_order")
	if err != nil {
		return err
	}
	if hasCompletedIndex {
		baseline = 2
	}

	err = m.inTx("legacy migration bootstrap", func(tx *sql.Tx) error {
		for _, mig := range migrations {
			if mig.version > baseline {
				break
			}
			if err := recordMigration(tx, mig); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("adopted legacy database", "baseline", baseline)
	return nil
}

func schemaObjectExists(db *sql.DB, kind, name string) (bool, error) {
	var found string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", kind, name, err)
	}

	return true, nil
}

func tableColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query table info for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		columns = append(columns, name)
	}

	return columns, rows.Err()
}
