// -----------------------------------------------------------------------
// Package storage wires the Badger-backed history/current stores together
// with the sqlite FTS5 index bridge (or its disabled no-op) into one
// interfaces.StorageManager, mirroring the teacher's factory.go shape.
// -----------------------------------------------------------------------

package storage

import (
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/index"
	"github.com/argyakrivos/magrathea/internal/interfaces"
	"github.com/argyakrivos/magrathea/internal/storage/badger"
)

// manager composes the Badger StorageManager with the index bridge's own
// connection, closing both on Close (the Badger manager alone only closes
// the badger handle it owns).
type manager struct {
	*badger.Manager
	idx interfaces.IndexBridge
}

func (m *manager) Close() error {
	var idxErr error
	if closer, ok := m.idx.(interface{ Close() error }); ok {
		idxErr = closer.Close()
	}
	dbErr := m.Manager.Close()
	if dbErr != nil {
		return dbErr
	}
	return idxErr
}

// NewStorageManager builds the engine's storage from config: the index
// bridge first (sqlite FTS5, or a disabled no-op per config.Index.Disabled),
// then the Badger-backed history/current stores wired to it.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	var idx interfaces.IndexBridge
	var fts *index.FTS5Index

	if config.Index.Disabled {
		idx = index.NewDisabledIndex()
	} else {
		var err error
		fts, err = index.NewFTS5Index(logger, &config.Storage.SQLite, config.Index.ReindexChunk)
		if err != nil {
			return nil, err
		}
		idx = fts
	}

	badgerMgr, err := badger.NewManager(logger, &config.Storage.Badger, idx)
	if err != nil {
		if fts != nil {
			fts.Close()
		}
		return nil, err
	}

	if fts != nil {
		fts.SetStores(badgerMgr.History(), badgerMgr.Current())
	}

	return &manager{Manager: badgerMgr, idx: idx}, nil
}
