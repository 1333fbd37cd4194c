package index

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// FTS5Index implements interfaces.IndexBridge over a SQLite FTS5 virtual
// table, mirroring the teacher's fts5_search_service.go shape: a single
// virtual table, current_fts, keyed by entity id. A reIndexHistory()
// rebuild pushes per-source history documents into that same table.
type FTS5Index struct {
	db      *sqliteDB
	history interfaces.HistoryStore
	current interfaces.CurrentStore
	chunk   int
	logger  arbor.ILogger

	reindexMu sync.Mutex // single-flights reIndexCurrent/reIndexHistory (§5)
}

// NewFTS5Index opens the SQLite connection and wires it to history/current
// for the reindex operations. history/current may be nil until the caller
// finishes constructing the storage manager; SetStores attaches them
// afterward to break the construction-order cycle (the index needs the
// stores, the StorageManager needs the index).
func NewFTS5Index(logger arbor.ILogger, config *common.SQLiteConfig, chunk int) (*FTS5Index, error) {
	db, err := newSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}
	if chunk <= 0 {
		chunk = 100
	}
	return &FTS5Index{db: db, chunk: chunk, logger: logger}, nil
}

// SetStores attaches the history/current stores the reindex operations
// scan. Must be called before ReIndexCurrent/ReIndexHistory.
func (f *FTS5Index) SetStores(history interfaces.HistoryStore, current interfaces.CurrentStore) {
	f.history = history
	f.current = current
}

func (f *FTS5Index) Close() error { return f.db.Close() }

// Push indexes one current document keyed by entity id (§4.8).
func (f *FTS5Index) Push(ctx context.Context, entityID string, doc map[string]interface{}) error {
	schema, _ := schemaOf(doc)
	content := flattenText(doc)

	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin push tx: %v", docmodel.ErrIndexFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_fts WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("%w: delete stale row: %v", docmodel.ErrIndexFailure, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO current_fts (entity_id, schema, content) VALUES (?, ?, ?)`, entityID, schema, content); err != nil {
		return fmt.Errorf("%w: insert row: %v", docmodel.ErrIndexFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit push: %v", docmodel.ErrIndexFailure, err)
	}

	f.logger.Debug().Str("entity_id", entityID).Str("schema", schema).Msg("index: pushed current document")
	return nil
}

// Remove drops entityID from the index.
func (f *FTS5Index) Remove(ctx context.Context, entityID string) error {
	if _, err := f.db.db.ExecContext(ctx, `DELETE FROM current_fts WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("%w: remove entity %s: %v", docmodel.ErrIndexFailure, entityID, err)
	}
	return nil
}

// Search runs a full-text MATCH query, returning one page of entity ids.
func (f *FTS5Index) Search(ctx context.Context, query string, offset, count int) ([]string, bool, error) {
	if count <= 0 {
		count = 20
	}
	rows, err := f.db.db.QueryContext(ctx,
		`SELECT entity_id FROM current_fts WHERE current_fts MATCH ? ORDER BY rank LIMIT ? OFFSET ?`,
		query, count+1, offset,
	)
	if err != nil {
		return nil, false, fmt.Errorf("%w: search query: %v", docmodel.ErrIndexFailure, err)
	}
	defer rows.Close()

	ids := make([]string, 0, count)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, false, fmt.Errorf("%w: scan search row: %v", docmodel.ErrIndexFailure, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: iterate search rows: %v", docmodel.ErrIndexFailure, err)
	}

	lastPage := len(ids) <= count
	if !lastPage {
		ids = ids[:count]
	}
	return ids, lastPage, nil
}

// ReIndexCurrent scans CurrentStore in chunks and re-pushes each document
// (§4.8), single-flighted against a concurrent rebuild (§5).
func (f *FTS5Index) ReIndexCurrent(ctx context.Context) error {
	if !f.reindexMu.TryLock() {
		return fmt.Errorf("%w: reindex already in progress", docmodel.ErrIndexFailure)
	}
	defer f.reindexMu.Unlock()

	if _, err := f.db.db.ExecContext(ctx, `DELETE FROM current_fts`); err != nil {
		return fmt.Errorf("%w: clear current_fts: %v", docmodel.ErrIndexFailure, err)
	}

	return f.current.ReIndexChunks(ctx, f.chunk, func(chunk []interfaces.StoredDoc) error {
		for _, sd := range chunk {
			if err := f.Push(ctx, sd.ID, sd.Doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReIndexHistory scans HistoryStore in chunks and re-pushes each per-source
// document under its own record id into current_fts, the same table that
// holds current documents; the table is not cleared first, so search
// results afterwards mix history record ids with entity ids.
func (f *FTS5Index) ReIndexHistory(ctx context.Context) error {
	if !f.reindexMu.TryLock() {
		return fmt.Errorf("%w: reindex already in progress", docmodel.ErrIndexFailure)
	}
	defer f.reindexMu.Unlock()

	return f.history.ReIndexChunks(ctx, f.chunk, func(chunk []interfaces.StoredDoc) error {
		for _, sd := range chunk {
			if err := f.Push(ctx, sd.ID, sd.Doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// schemaOf reads the annotated $schema leaf's value, if present.
func schemaOf(doc map[string]interface{}) (string, bool) {
	leaf, ok := doc["$schema"].(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := leaf["value"].(string)
	return s, ok
}

// flattenText walks an annotated document tree, collecting every string
// leaf value into a single space-joined blob for FTS5 to tokenize.
func flattenText(node interface{}) string {
	var parts []string
	collectText(node, &parts)
	return strings.Join(parts, " ")
}

func collectText(node interface{}, out *[]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		if value, hasValue := v["value"]; hasValue {
			if _, hasSource := v["source"]; hasSource && len(v) == 2 {
				collectText(value, out)
				return
			}
		}
		for _, child := range v {
			collectText(child, out)
		}
	case []interface{}:
		for _, elem := range v {
			collectText(elem, out)
		}
	case string:
		*out = append(*out, v)
	}
}
