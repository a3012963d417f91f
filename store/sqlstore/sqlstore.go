// Package sqlstore persists the catalog in SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const sqliteParams = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

type dialect struct {
	name      string
	driver    string
	timestamp string
	float     string
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite3", timestamp: "TIMESTAMP", float: "REAL"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", timestamp: "TIMESTAMPTZ", float: "DOUBLE PRECISION"}
)

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store implements store.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to driver ("sqlite" or "postgres") at dsn and creates the
// schema when missing. A SQLite dsn is a file path; its directory is
// created if needed.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var d dialect
	switch driver {
	case "sqlite":
		d = sqliteDialect
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += sqliteParams
		}
	case "postgres":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if d.name == "sqlite" {
		// Single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{"PRAGMA synchronous = NORMAL", "PRAGMA temp_store = memory"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	s := &Store{db: db, dialect: d, logger: logger.With("component", "sqlstore")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("store ready", slog.String("driver", driver))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// upsert runs update and falls back to insert when no row matched.
func (s *Store) upsert(ctx context.Context, entity, key, update string, updateArgs []any, insert string, insertArgs []any) error {
	res, err := s.exec(ctx, update, updateArgs...)
	if err != nil {
		return wrapWriteErr(entity, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.exec(ctx, insert, insertArgs...); err != nil {
		return wrapWriteErr(entity, key, err)
	}
	return nil
}

func wrapWriteErr(entity, key string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %q: %w", entity, key, store.ErrDuplicate)
	}
	return fmt.Errorf("save %s %q: %w", entity, key, err)
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func notFound(err error, entity, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &store.NotFoundError{Entity: entity, Key: key}
	}
	return fmt.Errorf("load %s %q: %w", entity, key, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
