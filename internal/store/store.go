// Package store implements TrackStore: a transactional, single-writer
// multi-reader SQLite store for tracks, their global features, and their
// time-series energy/brightness curve. Grounded on the teacher's
// storage.DB (db.go's embed-migrations/WAL pattern and tracks.go/
// analysis.go's upsert style), generalized to the spec's three-table
// schema and cache-hit semantics.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// cacheSize bounds the in-process is_cached fast-path LRU; a miss always
// falls through to the database, so this is purely an optimization.
const cacheSize = 4096

// Store is a TrackStore handle. Per spec §4.2, a handle is bound to the
// caller that opened it and must not be shared across concurrent tasks,
// though it may be re-entered within one.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu         sync.Mutex
	cacheHits  *lru.Cache[string, bool]
}

// Open opens (creating if absent) the SQLite database at dbPath, enables
// WAL journaling for concurrent readers, and runs pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}

	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: build cache: %w", err)
	}

	s := &Store{db: db, logger: logger, cacheHits: cache}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		s.logger.Info("applying migration", "version", version, "file", entry.Name())
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// StoreError wraps I/O failures per spec §4.2 ("fails with StoreError only
// on I/O; range/type coercion is best-effort and logged").
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Stats is the §4.2 TrackStore.stats() result.
type Stats struct {
	TotalTracks    int
	AnalyzedTracks int
	TotalSizeBytes int64
	OldestAt       int64
	NewestAt       int64
}

// Stats reports aggregate library statistics.
func (s *Store) Stats() (Stats, error) {
	var out Stats
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(file_size), 0),
			COALESCE(MIN(created_at), 0),
			COALESCE(MAX(created_at), 0)
		FROM tracks
	`)
	if err := row.Scan(&out.TotalTracks, &out.TotalSizeBytes, &out.OldestAt, &out.NewestAt); err != nil {
		return Stats{}, storeErr("stats", err)
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM global_features`)
	if err := row.Scan(&out.AnalyzedTracks); err != nil {
		return Stats{}, storeErr("stats", err)
	}
	return out, nil
}

// Cleanup removes analyzed tracks whose analyzed_at predates the cutoff
// (maxAgeDays), or whose file_size exceeds maxSizeBytes when maxSizeBytes
// is positive, and reclaims space with a vacuum run outside any
// transaction. Returns the number of tracks removed.
func (s *Store) Cleanup(maxAgeDays int, maxSizeBytes int64) (int64, error) {
	cutoff := nowUnix() - int64(maxAgeDays)*86400

	conditions := []string{"gf.analyzed_at < ?"}
	args := []any{cutoff}
	if maxSizeBytes > 0 {
		conditions = append(conditions, "t.file_size > ?")
		args = append(args, maxSizeBytes)
	}

	result, err := s.db.Exec(fmt.Sprintf(`
		DELETE FROM tracks WHERE id IN (
			SELECT t.id FROM tracks t
			JOIN global_features gf ON gf.track_id = t.id
			WHERE %s
		)
	`, strings.Join(conditions, " OR ")), args...)
	if err != nil {
		return 0, storeErr("cleanup", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("cleanup", err)
	}

	s.clearCache()

	if removed > 0 {
		if _, err := s.db.Exec("VACUUM"); err != nil {
			return removed, storeErr("vacuum", err)
		}
	}
	return removed, nil
}

// Clear truncates all three tables and returns the number of tracks
// removed.
func (s *Store) Clear() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tracks").Scan(&count); err != nil {
		return 0, storeErr("clear", err)
	}

	for _, table := range []string{"time_series", "global_features", "tracks"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return 0, storeErr("clear", err)
		}
	}
	s.clearCache()
	return count, nil
}

func (s *Store) clearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits.Purge()
}

