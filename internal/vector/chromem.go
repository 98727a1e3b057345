// Package vector implements the semantic index over an embedded chromem
// database. Store names are collection names; the backend listing is always
// authoritative over any in-process cache.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrStoreNotFound is returned for operations against an unknown store.
var ErrStoreNotFound = errors.New("vector store not found")

// ChromemIndex implements interfaces.VectorIndex on chromem-go.
type ChromemIndex struct {
	db       *chromem.DB
	embedder interfaces.Embedder
	logger   arbor.ILogger

	mu    sync.RWMutex
	files map[string]*models.VectorFile // fileID -> status record

	wg sync.WaitGroup
}

// NewChromemIndex opens (or creates) the persistent database at cfg.Path.
func NewChromemIndex(cfg *common.VectorStoreConfig, embedder interfaces.Embedder, logger arbor.ILogger) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("Vector index initialized")

	return &ChromemIndex{
		db:       db,
		embedder: embedder,
		logger:   logger,
		files:    make(map[string]*models.VectorFile),
	}, nil
}

func (c *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	}
}

// GetOrCreateStore returns the store with the given name, creating it if
// absent. chromem deduplicates collections by name, so concurrent callers
// converge on the same store.
func (c *ChromemIndex) GetOrCreateStore(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", models.ValidationError("vector store name is required")
	}
	_, err := c.db.GetOrCreateCollection(name, nil, c.embeddingFunc())
	if err != nil {
		return "", fmt.Errorf("failed to get or create store %s: %w", name, err)
	}
	return name, nil
}

// UploadText registers text for indexing and returns immediately. Chunking,
// embedding, and the collection write happen in the background; callers poll
// FileStatus.
func (c *ChromemIndex) UploadText(ctx context.Context, storeID, text, filename string) (string, error) {
	if text == "" {
		return "", models.ValidationError("cannot index empty text")
	}

	collection := c.db.GetCollection(storeID, c.embeddingFunc())
	if collection == nil {
		return "", fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}

	fileID := common.NewVectorFileID()
	chunks := ChunkText(text)

	c.mu.Lock()
	c.files[fileID] = &models.VectorFile{
		FileID:   fileID,
		StoreID:  storeID,
		Filename: filename,
		Status:   models.VectorFileUploaded,
		Chunks:   len(chunks),
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.index(fileID, storeID, filename, chunks)

	c.logger.Debug().
		Str("store_id", storeID).
		Str("file_id", fileID).
		Int("chunks", len(chunks)).
		Msg("Text upload accepted for indexing")

	return fileID, nil
}

// index runs in the background and owns the file's status transitions.
func (c *ChromemIndex) index(fileID, storeID, filename string, chunks []string) {
	defer c.wg.Done()
	ctx := context.Background()

	c.setFileStatus(fileID, models.VectorFileProcessing, "")

	collection := c.db.GetCollection(storeID, c.embeddingFunc())
	if collection == nil {
		c.setFileStatus(fileID, models.VectorFileFailed, "store disappeared during indexing")
		return
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("%s_%04d", fileID, i),
			Content: chunk,
			Metadata: map[string]string{
				"file_id":  fileID,
				"filename": filename,
			},
		}
	}

	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		c.logger.Warn().Err(err).Str("file_id", fileID).Msg("Vector indexing failed")
		c.setFileStatus(fileID, models.VectorFileFailed, err.Error())
		return
	}

	c.setFileStatus(fileID, models.VectorFileCompleted, "")
}

func (c *ChromemIndex) setFileStatus(fileID string, status models.VectorFileStatus, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[fileID]; ok {
		f.Status = status
		f.Error = errMsg
	}
}

// FileStatus reports indexing progress for one file
func (c *ChromemIndex) FileStatus(ctx context.Context, storeID, fileID string) (*models.VectorFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.files[fileID]
	if !ok || f.StoreID != storeID {
		return nil, models.NotFoundError("vector file", fileID)
	}
	out := *f
	return &out, nil
}

// ListFiles returns every file registered with a store
func (c *ChromemIndex) ListFiles(ctx context.Context, storeID string) ([]*models.VectorFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var files []*models.VectorFile
	for _, f := range c.files {
		if f.StoreID == storeID {
			out := *f
			files = append(files, &out)
		}
	}
	return files, nil
}

// DeleteFile removes a file's chunks and its status record
func (c *ChromemIndex) DeleteFile(ctx context.Context, storeID, fileID string) error {
	collection := c.db.GetCollection(storeID, c.embeddingFunc())
	if collection != nil {
		if err := collection.Delete(ctx, map[string]string{"file_id": fileID}, nil); err != nil {
			return fmt.Errorf("failed to delete vector file %s: %w", fileID, err)
		}
	}

	c.mu.Lock()
	delete(c.files, fileID)
	c.mu.Unlock()
	return nil
}

// Search runs a similarity query, filtering out hits below threshold
func (c *ChromemIndex) Search(ctx context.Context, storeID, query string, limit int, threshold float32) ([]models.VectorSearchResult, error) {
	collection := c.db.GetCollection(storeID, c.embeddingFunc())
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}

	if limit <= 0 {
		limit = 10
	}
	// chromem rejects queries asking for more results than stored documents.
	if count := collection.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return []models.VectorSearchResult{}, nil
	}

	results, err := collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query store %s: %w", storeID, err)
	}

	hits := make([]models.VectorSearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		hits = append(hits, models.VectorSearchResult{
			FileID:   r.Metadata["file_id"],
			Filename: r.Metadata["filename"],
			Content:  r.Content,
			Score:    r.Similarity,
		})
	}

	c.logger.Trace().
		Str("store_id", storeID).
		Int("hits", len(hits)).
		Msg("Vector search completed")

	return hits, nil
}

// ListStores returns all store names known to the backend
func (c *ChromemIndex) ListStores(ctx context.Context) ([]string, error) {
	collections := c.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return names, nil
}

// DeleteStore removes a store and all its content
func (c *ChromemIndex) DeleteStore(ctx context.Context, storeID string) error {
	if err := c.db.DeleteCollection(storeID); err != nil {
		return fmt.Errorf("failed to delete store %s: %w", storeID, err)
	}

	c.mu.Lock()
	for id, f := range c.files {
		if f.StoreID == storeID {
			delete(c.files, id)
		}
	}
	c.mu.Unlock()
	return nil
}

// Close waits for in-flight indexing to finish
func (c *ChromemIndex) Close() error {
	c.wg.Wait()
	return nil
}

var _ interfaces.VectorIndex = (*ChromemIndex)(nil)
