package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	tasks     interfaces.TaskStorage
	documents interfaces.DocumentStorage
	sessions  interfaces.SessionStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDB(db, logger), nil
}

// NewManagerWithDB wraps an already open connection. The caller shares the
// connection with other consumers, such as the queue, and Close closes it
// for all of them.
func NewManagerWithDB(db *BadgerDB, logger arbor.ILogger) interfaces.StorageManager {
	manager := &Manager{
		db:        db,
		tasks:     NewTaskStorage(db, logger),
		documents: NewDocumentStorage(db, logger),
		sessions:  NewSessionStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// Tasks returns the crawl task storage interface
func (m *Manager) Tasks() interfaces.TaskStorage {
	return m.tasks
}

// Documents returns the document storage interface
func (m *Manager) Documents() interfaces.DocumentStorage {
	return m.documents
}

// Sessions returns the chat session storage interface
func (m *Manager) Sessions() interfaces.SessionStorage {
	return m.sessions
}

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
