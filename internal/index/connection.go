// -----------------------------------------------------------------------
// Package index implements the Index bridge (§4.8): a SQLite FTS5-backed
// full-text index over current documents, plus a disabled no-op variant
// for environments with indexing turned off.
// -----------------------------------------------------------------------

package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/argyakrivos/magrathea/internal/common"
)

// sqliteDB manages the SQLite connection backing the FTS5 index.
type sqliteDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.SQLiteConfig
}

func newSQLiteDB(logger arbor.ILogger, config *common.SQLiteConfig) (*sqliteDB, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	if config.ResetOnStartup {
		if config.Environment != "development" {
			logger.Warn().
				Str("environment", config.Environment).
				Msg("reset_on_startup is enabled but environment is not 'development' - ignoring reset request for safety")
		} else if err := resetDatabase(logger, config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset index database: %w", err)
		}
	}

	logger.Debug().Str("path", config.Path).Msg("Opening index database connection")

	// modernc.org/sqlite registers driver name "sqlite" (not "sqlite3").
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; one connection avoids
	// SQLITE_BUSY under the single-writer assumption the Ingestor holds.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &sqliteDB{db: db, logger: logger, config: config}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure index database: %w", err)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("Index database initialized")
	return s, nil
}

func (s *sqliteDB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if s.config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// initSchema creates the FTS5 virtual table backing current-document
// search (§4.8). entity_id is unindexed (it is never matched against, only
// returned); content carries the flattened searchable text.
func (s *sqliteDB) initSchema() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS current_fts USING fts5(
			entity_id UNINDEXED,
			schema UNINDEXED,
			content,
			tokenize = 'porter unicode61'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create current_fts table: %w", err)
	}
	return nil
}

func (s *sqliteDB) DB() *sql.DB { return s.db }

func (s *sqliteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// resetDatabase deletes the database file and its WAL/SHM siblings.
// Development only — the caller already enforced that.
func resetDatabase(logger arbor.ILogger, dbPath string) error {
	logger.Warn().Str("path", dbPath).Msg("Resetting index database (deleting all data)")

	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete index database file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to delete index sidecar file")
		}
	}
	return nil
}
