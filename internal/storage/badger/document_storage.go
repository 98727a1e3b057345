package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/models"
)

// DocumentStorage persists document metadata in badgerhold
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new document storage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) *DocumentStorage {
	return &DocumentStorage{db: db, logger: logger}
}

// CreateDocument inserts a new document record. The per-user content hash
// uniqueness is enforced by FindByContentHash at the pipeline level; this
// insert only guards the primary key.
func (s *DocumentStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.db.Store().Insert(doc.DocumentID, doc); err != nil {
		if err == badgerhold.ErrKeyExists {
			return models.IllegalStateError("document %s already exists", doc.DocumentID)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}

	s.logger.Trace().
		Str("document_id", doc.DocumentID).
		Str("user_id", doc.UserID).
		Str("filename", doc.Filename).
		Msg("Document record created")

	return nil
}

// UpdateDocument overwrites an existing document record
func (s *DocumentStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	doc.UpdatedAt = time.Now()

	if err := s.db.Store().Update(doc.DocumentID, doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundError("document", doc.DocumentID)
		}
		return fmt.Errorf("failed to update document %s: %w", doc.DocumentID, err)
	}
	return nil
}

// GetDocument retrieves a document by id
func (s *DocumentStorage) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.Store().Get(documentID, &doc)
	if err == badgerhold.ErrNotFound {
		return nil, models.NotFoundError("document", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", documentID, err)
	}
	return &doc, nil
}

// GetDocumentForUser retrieves a document only if owned by userID
func (s *DocumentStorage) GetDocumentForUser(ctx context.Context, documentID, userID string) (*models.Document, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, models.NotFoundError("document", documentID)
	}
	return doc, nil
}

// FindByContentHash looks up the user's document with the given raw-byte
// hash. Returns nil without error when no duplicate exists.
func (s *DocumentStorage) FindByContentHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	var docs []*models.Document
	query := badgerhold.Where("ContentHash").Eq(contentHash).Index("ContentHash").
		And("UserID").Eq(userID)
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to query content hash: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// ListDocumentsByTask returns all documents produced by a crawl task
func (s *DocumentStorage) ListDocumentsByTask(ctx context.Context, taskID string) ([]*models.Document, error) {
	var docs []*models.Document
	query := badgerhold.Where("TaskID").Eq(taskID).Index("TaskID")
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents for task %s: %w", taskID, err)
	}
	return docs, nil
}

// ListDocumentsBySession returns all documents ingested into a session
func (s *DocumentStorage) ListDocumentsBySession(ctx context.Context, sessionID string) ([]*models.Document, error) {
	var docs []*models.Document
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID")
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents for session %s: %w", sessionID, err)
	}
	return docs, nil
}

// ListDocumentsByUser returns the user's documents, newest first
func (s *DocumentStorage) ListDocumentsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Document, error) {
	var docs []*models.Document
	query := badgerhold.Where("UserID").Eq(userID).Index("UserID")
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents for user %s: %w", userID, err)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []*models.Document{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

// DeleteDocument removes a single document record
func (s *DocumentStorage) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.db.Store().Delete(documentID, &models.Document{})
	if err == badgerhold.ErrNotFound {
		return models.NotFoundError("document", documentID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// DeleteDocumentsByTask removes every document belonging to a task. Used by
// the task delete cascade.
func (s *DocumentStorage) DeleteDocumentsByTask(ctx context.Context, taskID string) error {
	query := badgerhold.Where("TaskID").Eq(taskID).Index("TaskID")
	if err := s.db.Store().DeleteMatching(&models.Document{}, query); err != nil {
		return fmt.Errorf("failed to delete documents for task %s: %w", taskID, err)
	}
	return nil
}
