package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/models"
)

// SessionStorage persists chat session boundary records
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new session storage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) *SessionStorage {
	return &SessionStorage{db: db, logger: logger}
}

// UpsertSession writes a session record, creating it on first touch
func (s *SessionStorage) UpsertSession(ctx context.Context, session *models.ChatSession) error {
	if session.SessionID == "" || session.UserID == "" {
		return models.ValidationError("session requires session_id and user_id")
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	if err := s.db.Store().Upsert(session.SessionID, session); err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", session.SessionID, err)
	}
	return nil
}

// GetSession retrieves a session by id
func (s *SessionStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.Store().Get(sessionID, &session)
	if err == badgerhold.ErrNotFound {
		return nil, models.NotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &session, nil
}

// GetSessionForUser retrieves a session only if owned by userID
func (s *SessionStorage) GetSessionForUser(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, models.NotFoundError("session", sessionID)
	}
	return session, nil
}

// AppendDocument links a document to the session touchpoint list
func (s *SessionStorage) AppendDocument(ctx context.Context, sessionID, documentID string) error {
	return s.appendRef(sessionID, documentID, func(session *models.ChatSession, id string) {
		session.UploadedDocumentIDs = append(session.UploadedDocumentIDs, id)
	})
}

// AppendTask links a crawl task to the session touchpoint list
func (s *SessionStorage) AppendTask(ctx context.Context, sessionID, taskID string) error {
	return s.appendRef(sessionID, taskID, func(session *models.ChatSession, id string) {
		session.CrawlTaskIDs = append(session.CrawlTaskIDs, id)
	})
}

func (s *SessionStorage) appendRef(sessionID, id string, apply func(*models.ChatSession, string)) error {
	store := s.db.Store()

	return store.Badger().Update(func(txn *badgerdb.Txn) error {
		var session models.ChatSession
		if err := store.TxGet(txn, sessionID, &session); err != nil {
			if err == badgerhold.ErrNotFound {
				return models.NotFoundError("session", sessionID)
			}
			return err
		}
		apply(&session, id)
		session.UpdatedAt = time.Now()
		return store.TxUpsert(txn, sessionID, &session)
	})
}

// DeleteSession removes a session record
func (s *SessionStorage) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.db.Store().Delete(sessionID, &models.ChatSession{})
	if err == badgerhold.ErrNotFound {
		return models.NotFoundError("session", sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}
