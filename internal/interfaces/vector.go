package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the semantic search backend. Stores are identified by the
// IDs handed back from GetOrCreateStore; names are unique per backend.
type VectorIndex interface {
	// GetOrCreateStore returns the store with the given name, creating it if
	// absent. Concurrent calls with the same name converge on one store.
	GetOrCreateStore(ctx context.Context, name string) (string, error)

	// UploadText registers text for indexing and returns immediately with a
	// file ID. Indexing completes in the background; poll FileStatus.
	UploadText(ctx context.Context, storeID, text, filename string) (string, error)

	FileStatus(ctx context.Context, storeID, fileID string) (*models.VectorFile, error)
	ListFiles(ctx context.Context, storeID string) ([]*models.VectorFile, error)
	DeleteFile(ctx context.Context, storeID, fileID string) error

	Search(ctx context.Context, storeID, query string, limit int, threshold float32) ([]models.VectorSearchResult, error)

	ListStores(ctx context.Context) ([]string, error)
	DeleteStore(ctx context.Context, storeID string) error
	Close() error
}

// SessionStores resolves chat sessions to their vector stores.
type SessionStores interface {
	// StoreForSession returns the session's store ID, creating the store on
	// first use. The backend listing is authoritative; the internal cache is
	// only an optimization.
	StoreForSession(ctx context.Context, sessionID string) (string, error)
}
