package vector

import (
	"container/list"
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// SessionManager maps chat sessions to their vector stores. The cache is a
// bounded LRU; on miss the backend listing decides whether the store already
// exists, so the mapping survives restarts and cache evictions.
type SessionManager struct {
	index    interfaces.VectorIndex
	capacity int
	logger   arbor.ILogger

	mu      sync.Mutex
	entries map[string]*list.Element // sessionID -> lru element
	lru     *list.List               // front = most recent
}

type sessionEntry struct {
	sessionID string
	storeID   string
}

// NewSessionManager creates a manager with the given cache capacity.
func NewSessionManager(index interfaces.VectorIndex, capacity int, logger arbor.ILogger) *SessionManager {
	if capacity <= 0 {
		capacity = 256
	}
	return &SessionManager{
		index:    index,
		capacity: capacity,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// StoreForSession returns the session's store ID, creating the store on
// first use.
func (m *SessionManager) StoreForSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", models.ValidationError("session_id is required")
	}

	if storeID, ok := m.cached(sessionID); ok {
		return storeID, nil
	}

	name := models.SessionStoreName(sessionID)

	// The backend is the source of truth; GetOrCreateStore converges on the
	// existing store when one already carries this name.
	storeID, err := m.index.GetOrCreateStore(ctx, name)
	if err != nil {
		return "", err
	}

	m.remember(sessionID, storeID)

	m.logger.Debug().
		Str("session_id", sessionID).
		Str("store_id", storeID).
		Msg("Session vector store resolved")

	return storeID, nil
}

func (m *SessionManager) cached(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[sessionID]
	if !ok {
		return "", false
	}
	m.lru.MoveToFront(elem)
	return elem.Value.(*sessionEntry).storeID, true
}

func (m *SessionManager) remember(sessionID, storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[sessionID]; ok {
		m.lru.MoveToFront(elem)
		elem.Value.(*sessionEntry).storeID = storeID
		return
	}

	elem := m.lru.PushFront(&sessionEntry{sessionID: sessionID, storeID: storeID})
	m.entries[sessionID] = elem

	for m.lru.Len() > m.capacity {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		m.lru.Remove(oldest)
		delete(m.entries, oldest.Value.(*sessionEntry).sessionID)
	}
}

// CacheLen reports the number of cached mappings.
func (m *SessionManager) CacheLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

var _ interfaces.SessionStores = (*SessionManager)(nil)
