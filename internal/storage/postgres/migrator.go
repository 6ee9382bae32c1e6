package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(0x6d61726b6574) // "market"
	migrationTimeout = 5 * time.Second

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS market_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// ErrMigrationDrift — применённая миграция отличается от встроенного файла.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

// MigrationState — состояние схемы: последняя версия, применённые и ожидающие миграции.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

type appliedMigration struct {
	Version  int64
	Checksum string
}

// MigrateUp применяет ожидающие миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []migration, applied []appliedMigration) error {
		if err := verifyChecksums(all, applied); err != nil {
			return err
		}

		done := make(map[int64]bool, len(applied))
		for _, a := range applied {
			done[a.Version] = true
		}

		count := 0
		for _, m := range all {
			if done[m.Version] {
				continue
			}
			if steps > 0 && count == steps {
				break
			}
			if err := runMigrationStep(ctx, conn, m, true); err != nil {
				return err
			}
			count++
		}
		return nil
	})
}

// MigrateDown откатывает последние миграции; steps<=0 считается одним шагом.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []migration, applied []appliedMigration) error {
		byVersion := make(map[int64]migration, len(all))
		for _, m := range all {
			byVersion[m.Version] = m
		}

		for i := len(applied) - 1; i >= 0 && steps > 0; i-- {
			m, ok := byVersion[applied[i].Version]
			if !ok {
				return fmt.Errorf("cannot roll back unknown migration version %d", applied[i].Version)
			}
			if err := runMigrationStep(ctx, conn, m, false); err != nil {
				return err
			}
			steps--
		}
		return nil
	})
}

// MigrationStatus сообщает версию схемы и число применённых и ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errors.New("postgres store is not initialized")
	}

	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := loadApplied(queryCtx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied), Pending: pendingCount(all, applied)}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1].Version
	}
	return state, nil
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migration, []appliedMigration) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	return fn(conn, all, applied)
}

// runMigrationStep выполняет одну миграцию и её учётную запись в одной транзакции.
func runMigrationStep(ctx context.Context, conn *sql.Conn, m migration, up bool) error {
	direction, body := "down", m.DownSQL
	if up {
		direction, body = "up", m.UpSQL
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m, err)
	}

	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO market_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			m.Version, m.Name, m.checksum())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM market_schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}

	log.WithFields(log.Fields{"component": "postgres-migrator", "migration": m.String()}).
		Infof("migration %s applied", direction)
	return nil
}

func loadApplied(ctx context.Context, q queryer) ([]appliedMigration, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, checksum FROM market_schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func verifyChecksums(all []migration, applied []appliedMigration) error {
	byVersion := make(map[int64]migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}
	for _, a := range applied {
		m, ok := byVersion[a.Version]
		if !ok {
			continue
		}
		if m.checksum() != a.Checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, m)
		}
	}
	return nil
}

func pendingCount(all []migration, applied []appliedMigration) int {
	pending := 0
	for _, m := range all {
		if !slices.ContainsFunc(applied, func(a appliedMigration) bool { return a.Version == m.Version }) {
			pending++
		}
	}
	return pending
}

// parseMigrationFile разбирает имя вида 0001_name.up.sql.
func parseMigrationFile(base string) (version int64, name string, up bool, err error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", base)
	}

	switch {
	case strings.HasSuffix(stem, ".up"):
		stem, up = strings.TrimSuffix(stem, ".up"), true
	case strings.HasSuffix(stem, ".down"):
		stem = strings.TrimSuffix(stem, ".down")
	default:
		return 0, "", false, fmt.Errorf("migration file %s must end with .up.sql or .down.sql", base)
	}

	rawVersion, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err = strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", false, fmt.Errorf("invalid migration version in %s", base)
	}
	return version, name, up, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, name)
		}

		target := &m.DownSQL
		if up {
			target = &m.UpSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate migration file %s", entry.Name())
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
