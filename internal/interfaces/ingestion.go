package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// CreateCrawlRequest carries everything needed to register a crawl task.
// Zero limits and timeouts receive defaults before validation.
type CreateCrawlRequest struct {
	UserID    string             `validate:"required"`
	SessionID string             ``
	URL       string             `validate:"required,url"`
	Limits    models.CrawlLimits ``
	Timeouts  models.CrawlTimeouts
	Policy    models.FetchPolicy
}

// UploadRequest carries one user-uploaded file. SessionID is optional: a
// sessionless upload lands in the default vector store.
type UploadRequest struct {
	UserID    string `validate:"required"`
	SessionID string ``
	Filename  string `validate:"required"`
	Data      []byte
}

// CrawledContentRequest carries pre-fetched markdown handed over on behalf
// of a crawl task. Extraction is skipped; the text is cleaned and indexed
// directly.
type CrawledContentRequest struct {
	UserID    string `validate:"required"`
	TaskID    string `validate:"required"`
	Filename  string `validate:"required"`
	SourceURL string `validate:"omitempty,url"`
	Title     string
	Markdown  string `validate:"required"`
}

// QueryRequest is a semantic search over a session's vector store.
type QueryRequest struct {
	UserID    string `validate:"required"`
	SessionID string `validate:"required"`
	Query     string `validate:"required"`
	Limit     int
	Threshold float32
}

// Ingestion is the stable facade consumed by the transport layer. All
// operations filter by ownership; foreign resources read as not found.
type Ingestion interface {
	CreateCrawlTask(ctx context.Context, req *CreateCrawlRequest) (*models.CrawlTask, error)
	StartCrawlTask(ctx context.Context, taskID, userID string) error
	CancelCrawlTask(ctx context.Context, taskID, userID string) error
	GetCrawlTask(ctx context.Context, taskID, userID string) (*models.CrawlTask, error)
	ListCrawlTasks(ctx context.Context, userID string, limit, offset int) ([]*models.CrawlTask, error)
	DeleteCrawlTask(ctx context.Context, taskID, userID string) error

	IngestUploadedDocument(ctx context.Context, req *UploadRequest) (*models.Document, error)
	IngestCrawledContent(ctx context.Context, req *CrawledContentRequest) (*models.Document, error)

	GetDocument(ctx context.Context, documentID, userID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, limit, offset int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, documentID, userID string) error

	Query(ctx context.Context, req *QueryRequest) ([]models.VectorSearchResult, error)
}
