package db

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"

	embeddedmigrations "github.com/solatis/tracenotify/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// MigrateUp applies every pending embedded migration for the database's
// driver, each in its own transaction. Applied migrations whose embedded
// file changed, or that no longer exist, abort the run.
func MigrateUp(db *sqlx.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	applied, err := m.applied()
	if err != nil {
		return err
	}
	if err := m.verify(applied); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}

	for _, f := range m.files {
		if _, ok := applied[f.ID]; ok {
			continue
		}
		if err := m.apply(f); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", f.ID, err)
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	m, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.files))
	for _, f := range m.files {
		if s, ok := applied[f.ID]; ok {
			statuses = append(statuses, s)
			continue
		}
		statuses = append(statuses, MigrationStatus{ID: f.ID, Checksum: f.Checksum})
	}
	return statuses, nil
}

type migrationFile struct {
	ID       string
	Checksum string
	SQL      string
}

type migrator struct {
	db    *sqlx.DB
	files []migrationFile
}

// newMigrator loads the driver's embedded migrations, sorted by file name,
// and makes sure the bookkeeping table exists.
func newMigrator(db *sqlx.DB) (*migrator, error) {
	var (
		fsys fs.FS
		dir  string
	)
	switch db.DriverName() {
	case "sqlite3":
		fsys, dir = embeddedmigrations.SqliteMigrations, "sqlite"
	case "postgres":
		fsys, dir = embeddedmigrations.PostgresMigrations, "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}

	files, err := readMigrationFiles(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	m := &migrator{db: db, files: files}
	if err := m.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return m, nil
}

func readMigrationFiles(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		files = append(files, migrationFile{
			ID:       e.Name(),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (m *migrator) createTable() error {
	// sqlite has no timestamp type; applied_at is stored as RFC3339 text.
	appliedAt := "TIMESTAMP WITHOUT TIME ZONE NOT NULL"
	if m.db.DriverName() == "sqlite3" {
		appliedAt = "TEXT NOT NULL CHECK (applied_at LIKE '____-__-__T__:__:__Z')"
	}
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at ` + appliedAt + `,
		execution_ms INTEGER NOT NULL
	)`)
	return err
}

// applied returns the recorded migrations by ID.
func (m *migrator) applied() (map[string]MigrationStatus, error) {
	rows, err := m.db.Queryx("SELECT migration_id, checksum, applied_at, execution_ms FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]MigrationStatus)
	for rows.Next() {
		var (
			s  MigrationStatus
			at any
		)
		if err := rows.Scan(&s.ID, &s.Checksum, &at, &s.ExecutionMs); err != nil {
			return nil, err
		}
		s.AppliedAt = parseAppliedAt(at)
		s.Applied = true
		applied[s.ID] = s
	}
	return applied, rows.Err()
}

// verify checks recorded checksums against the embedded files.
func (m *migrator) verify(applied map[string]MigrationStatus) error {
	embedded := make(map[string]string, len(m.files))
	for _, f := range m.files {
		embedded[f.ID] = f.Checksum
	}
	for id, s := range applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if s.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, s.Checksum)
		}
	}
	return nil
}

// apply runs f and records it in one transaction. Statements run one at a
// time because lib/pq rejects multiple statements per Exec.
func (m *migrator) apply(f migrationFile) (err error) {
	start := time.Now()
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	for _, stmt := range splitStatements(f.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}

	now := time.Now().UTC()
	var appliedAt any = now
	if m.db.DriverName() == "sqlite3" {
		appliedAt = now.Format(time.RFC3339)
	}
	_, err = tx.Exec(tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		f.ID, f.Checksum, appliedAt, time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// splitStatements drops full-line comments and splits on semicolons.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// parseAppliedAt accepts the TIMESTAMP postgres returns and the RFC3339
// text sqlite stores.
func parseAppliedAt(v any) *time.Time {
	var s string
	switch x := v.(type) {
	case time.Time:
		return &x
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
