package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// Manager wires history/current storage (§4.4, §4.5) plus an index bridge
// behind one interfaces.StorageManager handle. The index bridge lives in a
// separate sqlite connection and is supplied by the caller (internal/storage's
// factory), since Badger only hosts the two document stores.
type Manager struct {
	db     *BadgerDB
	stores *Stores
	index  interfaces.IndexBridge
	logger arbor.ILogger
}

// NewManager opens a Badger database and wires the history/current stores
// around it, attaching index as the StorageManager's Index().
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, index interfaces.IndexBridge) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:     db,
		stores: NewStores(db, logger),
		index:  index,
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")
	return m, nil
}

// History returns the HistoryStore.
func (m *Manager) History() interfaces.HistoryStore { return m.stores.History() }

// Current returns the CurrentStore.
func (m *Manager) Current() interfaces.CurrentStore { return m.stores.Current() }

// Index returns the IndexBridge.
func (m *Manager) Index() interfaces.IndexBridge { return m.index }

// Close closes the Badger database connection. The index bridge's own
// sqlite connection is owned and closed by the factory that built it.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
