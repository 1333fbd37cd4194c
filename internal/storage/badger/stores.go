// -----------------------------------------------------------------------
// Package badger implements the reconciliation engine's HistoryStore and
// CurrentStore (§4.4, §4.5) atop badgerhold, sharing one BadgerDB handle.
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// historyRecord is the badgerhold-persisted shape of one per-source
// document (§4.4). DocJSON holds the annotated document serialized with
// encoding/json so json.Number values (and therefore full integer
// precision) survive the round trip — badgerhold's default gob codec
// cannot encode arbitrary interface{} trees without type registration.
type historyRecord struct {
	ID         string `badgerhold:"key"`
	Version    int
	HistoryKey string
	EntityKey  string
	Schema     string
	DocJSON    []byte
}

// currentRecord is the badgerhold-persisted shape of one merged entity
// document (§4.5).
type currentRecord struct {
	ID        string `badgerhold:"key"`
	Version   int
	EntityKey string
	Schema    string
	DocJSON   []byte
}

// Stores composes the history and current stores over one BadgerDB. The
// history store holds a reference to the current store so
// GetHistoryByEntityID can resolve a current-store entity id to its
// EntityKey without the public interfaces knowing about each other.
type Stores struct {
	db      *BadgerDB
	history *historyStore
	current *currentStore
}

// NewStores opens (or reuses) db and wires the history/current stores
// together.
func NewStores(db *BadgerDB, logger arbor.ILogger) *Stores {
	cur := &currentStore{db: db, logger: logger}
	hist := &historyStore{db: db, logger: logger, current: cur}
	return &Stores{db: db, history: hist, current: cur}
}

func (s *Stores) History() interfaces.HistoryStore { return s.history }
func (s *Stores) Current() interfaces.CurrentStore { return s.current }
func (s *Stores) Close() error                     { return s.db.Close() }

// ---------------------------------------------------------------------
// historyStore
// ---------------------------------------------------------------------

type historyStore struct {
	db      *BadgerDB
	logger  arbor.ILogger
	current *currentStore
}

func (h *historyStore) LookupByHistoryKey(ctx context.Context, historyKey string) ([]interfaces.StoredDoc, error) {
	var recs []historyRecord
	if err := h.db.Store().Find(&recs, badgerhold.Where("HistoryKey").Eq(historyKey)); err != nil {
		return nil, fmt.Errorf("badger: lookup by history key: %w", err)
	}
	return decodeHistoryRecords(recs)
}

func (h *historyStore) FetchByEntity(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	var recs []historyRecord
	if err := h.db.Store().Find(&recs, badgerhold.Where("EntityKey").Eq(currentKey)); err != nil {
		return nil, fmt.Errorf("badger: fetch by entity: %w", err)
	}
	return decodeHistoryRecords(recs)
}

func (h *historyStore) Store(ctx context.Context, historyKey, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("badger: marshal history doc: %w", err)
	}

	id := maybeReplaceID
	newVersion := version + 1
	if id == "" {
		id = common.NewDocumentID()
		newVersion = 1
	} else {
		var existing historyRecord
		if err := h.db.Store().Get(id, &existing); err != nil {
			if err != badgerhold.ErrNotFound {
				return "", 0, fmt.Errorf("badger: load history record %s: %w", id, err)
			}
		} else if existing.Version != version {
			return "", 0, fmt.Errorf("%w: history record %s at version %d, caller expected %d", docmodel.ErrStoreConflict, id, existing.Version, version)
		}
	}

	rec := historyRecord{
		ID:         id,
		Version:    newVersion,
		HistoryKey: historyKey,
		EntityKey:  currentKey,
		Schema:     schema,
		DocJSON:    docJSON,
	}
	if err := h.db.Store().Upsert(id, rec); err != nil {
		return "", 0, fmt.Errorf("badger: store history record: %w", err)
	}
	return id, newVersion, nil
}

func (h *historyStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := h.db.Store().Delete(id, historyRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("badger: delete history record %s: %w", id, err)
		}
	}
	return nil
}

func (h *historyStore) GetHistoryByEntityID(ctx context.Context, entityID string, schema string) ([]interfaces.StoredDoc, error) {
	rec, found, err := h.current.getRecord(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !found || rec.Schema != schema {
		return nil, nil
	}
	return h.FetchByEntity(ctx, rec.EntityKey)
}

func (h *historyStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func([]interfaces.StoredDoc) error) error {
	return reindexChunks(h.db, chunkSize, func(recs []historyRecord) ([]interfaces.StoredDoc, error) {
		return decodeHistoryRecords(recs)
	}, fn)
}

// ---------------------------------------------------------------------
// currentStore
// ---------------------------------------------------------------------

type currentStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func (c *currentStore) LookupByCurrentKey(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	var recs []currentRecord
	if err := c.db.Store().Find(&recs, badgerhold.Where("EntityKey").Eq(currentKey)); err != nil {
		return nil, fmt.Errorf("badger: lookup by current key: %w", err)
	}
	return decodeCurrentRecords(recs)
}

func (c *currentStore) GetByID(ctx context.Context, id string, schema string) (interfaces.StoredDoc, bool, error) {
	rec, found, err := c.getRecord(ctx, id)
	if err != nil || !found || rec.Schema != schema {
		return interfaces.StoredDoc{}, false, err
	}
	doc, err := decodeDoc(rec.DocJSON)
	if err != nil {
		return interfaces.StoredDoc{}, false, err
	}
	return interfaces.StoredDoc{ID: rec.ID, Version: rec.Version, Doc: doc}, true, nil
}

func (c *currentStore) getRecord(ctx context.Context, id string) (currentRecord, bool, error) {
	var rec currentRecord
	if err := c.db.Store().Get(id, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return currentRecord{}, false, nil
		}
		return currentRecord{}, false, fmt.Errorf("badger: get current record %s: %w", id, err)
	}
	return rec, true, nil
}

func (c *currentStore) Store(ctx context.Context, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("badger: marshal current doc: %w", err)
	}

	id := maybeReplaceID
	newVersion := version + 1
	if id == "" {
		id = uuid.New().String()
		newVersion = 1
	} else {
		existing, found, err := c.getRecord(ctx, id)
		if err != nil {
			return "", 0, err
		}
		if found && existing.Version != version {
			return "", 0, fmt.Errorf("%w: current record %s at version %d, caller expected %d", docmodel.ErrStoreConflict, id, existing.Version, version)
		}
	}

	rec := currentRecord{
		ID:        id,
		Version:   newVersion,
		EntityKey: currentKey,
		Schema:    schema,
		DocJSON:   docJSON,
	}
	if err := c.db.Store().Upsert(id, rec); err != nil {
		return "", 0, fmt.Errorf("badger: store current record: %w", err)
	}
	return id, newVersion, nil
}

func (c *currentStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := c.db.Store().Delete(id, currentRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("badger: delete current record %s: %w", id, err)
		}
	}
	return nil
}

func (c *currentStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func([]interfaces.StoredDoc) error) error {
	return reindexChunks(c.db, chunkSize, func(recs []currentRecord) ([]interfaces.StoredDoc, error) {
		return decodeCurrentRecords(recs)
	}, fn)
}

// ---------------------------------------------------------------------
// shared helpers
// ---------------------------------------------------------------------

func decodeDoc(docJSON []byte) (map[string]interface{}, error) {
	doc, err := docmodel.DecodeJSON(docJSON)
	if err != nil {
		return nil, fmt.Errorf("badger: decode stored doc: %w", err)
	}
	return doc, nil
}

func decodeHistoryRecords(recs []historyRecord) ([]interfaces.StoredDoc, error) {
	out := make([]interfaces.StoredDoc, 0, len(recs))
	for _, rec := range recs {
		doc, err := decodeDoc(rec.DocJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, interfaces.StoredDoc{ID: rec.ID, Version: rec.Version, Doc: doc})
	}
	return out, nil
}

func decodeCurrentRecords(recs []currentRecord) ([]interfaces.StoredDoc, error) {
	out := make([]interfaces.StoredDoc, 0, len(recs))
	for _, rec := range recs {
		doc, err := decodeDoc(rec.DocJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, interfaces.StoredDoc{ID: rec.ID, Version: rec.Version, Doc: doc})
	}
	return out, nil
}

// reindexChunks pages through every record of type T in badgerhold's
// default Find ordering (record key order) and hands each chunk to fn
// after decoding it to StoredDoc, for Index bridge rebuilds (§4.8).
func reindexChunks[T any](db *BadgerDB, chunkSize int, decode func([]T) ([]interfaces.StoredDoc, error), fn func([]interfaces.StoredDoc) error) error {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	offset := 0
	for {
		var recs []T
		query := badgerhold.Where("ID").Ne("").Skip(offset).Limit(chunkSize)
		if err := db.Store().Find(&recs, query); err != nil {
			return fmt.Errorf("badger: reindex chunk at offset %d: %w", offset, err)
		}
		if len(recs) == 0 {
			return nil
		}
		chunk, err := decode(recs)
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
		offset += len(recs)
		if len(recs) < chunkSize {
			return nil
		}
	}
}
