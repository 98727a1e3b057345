package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/colligo/internal/models"
)

// ObjectMeta is the metadata carried alongside a stored object.
type ObjectMeta struct {
	OriginalFilename string
	UserID           string
	ContentMD5       string
	FileSize         int64
	PDFHeaderOK      bool
	UploadTimestamp  string
}

// ObjectInfo describes a stored object without its body.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentMD5  string
	ContentType string
}

// ObjectStore - interface for binary document persistence. Every write goes
// through VerifiedPut; the raw Put exists only for temp objects that are
// verified by their consumer.
type ObjectStore interface {
	// VerifiedPut stores data under key, reads it back, and compares length
	// and MD5. A mismatch returns an integrity error and the caller must not
	// retry.
	VerifiedPut(ctx context.Context, key string, data []byte, contentType string, meta ObjectMeta) error

	Put(ctx context.Context, key string, data []byte, contentType string, meta ObjectMeta) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// TaskStorage - interface for crawl task persistence
type TaskStorage interface {
	CreateTask(ctx context.Context, task *models.CrawlTask) error
	GetTask(ctx context.Context, taskID string) (*models.CrawlTask, error)
	GetTaskForUser(ctx context.Context, taskID, userID string) (*models.CrawlTask, error)
	ListTasksByUser(ctx context.Context, userID string, limit, offset int) ([]*models.CrawlTask, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.CrawlTask, error)
	DeleteTask(ctx context.Context, taskID string) error

	// CompareAndSetStatus transitions taskID from expected to next in one
	// transaction, applying patch to the loaded task before the write.
	// Returns models.ErrCASConflict when the stored status is not expected.
	CompareAndSetStatus(ctx context.Context, taskID string, expected, next models.TaskStatus, patch func(*models.CrawlTask)) error

	// UpdateProgress applies a counter patch without touching status.
	UpdateProgress(ctx context.Context, taskID string, patch func(*models.CrawlProgress)) error

	// Heartbeat records liveness for a running task.
	Heartbeat(ctx context.Context, taskID string) error
}

// DocumentStorage - interface for document metadata persistence
type DocumentStorage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	GetDocumentForUser(ctx context.Context, documentID, userID string) (*models.Document, error)
	FindByContentHash(ctx context.Context, userID, contentHash string) (*models.Document, error)
	ListDocumentsByTask(ctx context.Context, taskID string) ([]*models.Document, error)
	ListDocumentsBySession(ctx context.Context, sessionID string) ([]*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteDocumentsByTask(ctx context.Context, taskID string) error
}

// SessionStorage - interface for chat session boundary records
type SessionStorage interface {
	UpsertSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	GetSessionForUser(ctx context.Context, sessionID, userID string) (*models.ChatSession, error)
	AppendDocument(ctx context.Context, sessionID, documentID string) error
	AppendTask(ctx context.Context, sessionID, taskID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// StorageManager owns the shared badger store and hands out typed views.
type StorageManager interface {
	Tasks() TaskStorage
	Documents() DocumentStorage
	Sessions() SessionStorage
	Close() error
}
