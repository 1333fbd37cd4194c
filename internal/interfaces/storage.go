// -----------------------------------------------------------------------
// Package interfaces declares the engine's storage and index contracts
// (§4.4, §4.5, §4.8) so the Ingestor and HTTP surface depend on behavior,
// not on a concrete Badger/sqlite implementation.
// -----------------------------------------------------------------------

package interfaces

import "context"

// StoredDoc is one record as held by HistoryStore or CurrentStore: an
// annotated document plus the store's opaque identity (§3 "Lifecycles").
type StoredDoc struct {
	ID      string
	Version int
	Doc     map[string]interface{}
}

// HistoryStore is the persistent set of annotated per-source documents
// (§4.4), indexed by history key and by (schema, classification).
type HistoryStore interface {
	// LookupByHistoryKey returns every stored document whose history key
	// equals historyKey. Size 0 or 1 under I2; >1 is a repair case.
	LookupByHistoryKey(ctx context.Context, historyKey string) ([]StoredDoc, error)

	// FetchByEntity returns all per-source docs sharing currentKey — the
	// canonical {schema, classification} key of the entity they merge
	// into (§4.3).
	FetchByEntity(ctx context.Context, currentKey string) ([]StoredDoc, error)

	// Store inserts doc as a new record under historyKey/currentKey, or
	// replaces maybeReplaceID's record in place if non-empty. The caller
	// (the Ingestor, via the KeyExtractor) supplies the derived keys
	// since they come from the pre-annotation document and cannot be
	// recovered from doc alone once annotated. Returns the stored
	// record's id and version. version is the caller's last-known
	// version for the replaced record (optimistic concurrency); a
	// mismatch at write time yields ErrStoreConflict.
	Store(ctx context.Context, historyKey, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (id string, newVersion int, err error)

	// DeleteMany idempotently removes records by opaque id.
	DeleteMany(ctx context.Context, ids []string) error

	// GetHistoryByEntityID retrieves per-source docs for the revisions
	// view (§4.7), given the entity's current-store id.
	GetHistoryByEntityID(ctx context.Context, entityID string, schema string) ([]StoredDoc, error)

	// ReIndexChunks streams stored documents in chunks of size chunkSize
	// for Index bridge rebuilds (§4.8).
	ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []StoredDoc) error) error
}

// CurrentStore is the persistent set of merged entity documents (§4.5),
// indexed by current key and by entity id.
type CurrentStore interface {
	// LookupByCurrentKey mirrors HistoryStore.LookupByHistoryKey, keyed
	// by current key, for I3 repair.
	LookupByCurrentKey(ctx context.Context, currentKey string) ([]StoredDoc, error)

	// GetByID supports the HTTP surface's GET /books|contributors/{uuid}.
	GetByID(ctx context.Context, id string, schema string) (StoredDoc, bool, error)

	// Store replaces-by-id when maybeReplaceID is non-empty, else inserts,
	// under currentKey/schema (see HistoryStore.Store for why the caller
	// supplies the derived key rather than the store recomputing it).
	Store(ctx context.Context, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (id string, newVersion int, err error)

	DeleteMany(ctx context.Context, ids []string) error

	// ReIndexChunks mirrors HistoryStore.ReIndexChunks over current docs.
	ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []StoredDoc) error) error
}

// IndexBridge pushes current documents into the search backend and
// supports full rebuilds (§4.8).
type IndexBridge interface {
	// Push indexes one current document keyed by entity id.
	Push(ctx context.Context, entityID string, doc map[string]interface{}) error

	// Remove drops entityID from the index.
	Remove(ctx context.Context, entityID string) error

	// Search runs a full-text query, returning a page of entity ids plus
	// whether this is the last page (§6 GET /search).
	Search(ctx context.Context, query string, offset, count int) (ids []string, lastPage bool, err error)

	// ReIndexCurrent and ReIndexHistory are the two full-rebuild
	// operations (§4.8); each is single-flighted per target (§5).
	ReIndexCurrent(ctx context.Context) error
	ReIndexHistory(ctx context.Context) error
}

// StorageManager composes the two stores and the index bridge behind one
// handle so callers open and close one thing.
type StorageManager interface {
	History() HistoryStore
	Current() CurrentStore
	Index() IndexBridge
	Close() error
}
