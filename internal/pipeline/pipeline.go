// Package pipeline turns raw document bytes into searchable records: type
// detection, text extraction, object persistence, dedup, and vector upload.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/extract"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// Input describes one document entering the pipeline. Exactly one of TaskID
// or SessionID identifies the origin. When ObjectKey is already populated and
// Stored is true the bytes are not written again. DocumentID is assigned when
// the caller leaves it empty.
type Input struct {
	DocumentID string

	UserID    string
	TaskID    string
	SessionID string

	Filename  string
	SourceURL string
	Data      []byte

	ObjectKey string
	Stored    bool
}

// Pipeline processes documents end to end. Extraction is CPU-bound and runs
// under a semaphore sized to the host CPU count so it cannot starve the
// I/O-bound stages.
type Pipeline struct {
	objects    interfaces.ObjectStore
	documents  interfaces.DocumentStorage
	vectors    interfaces.VectorIndex
	sessions   interfaces.SessionStores
	registry   *extract.Registry
	logger     arbor.ILogger
	extractSem chan struct{}

	defaultStoreName string
}

// New creates a pipeline over the given stores.
func New(objects interfaces.ObjectStore, documents interfaces.DocumentStorage, vectors interfaces.VectorIndex, sessions interfaces.SessionStores, registry *extract.Registry, defaultStoreName string, logger arbor.ILogger) *Pipeline {
	return &Pipeline{
		objects:          objects,
		documents:        documents,
		vectors:          vectors,
		sessions:         sessions,
		registry:         registry,
		logger:           logger,
		extractSem:       make(chan struct{}, runtime.NumCPU()),
		defaultStoreName: defaultStoreName,
	}
}

// Process runs one document through the full pipeline and returns its final
// record. Vector-upload failure degrades the document status but is not an
// error; the object write and the record survive.
func (p *Pipeline) Process(ctx context.Context, input Input) (*models.Document, error) {
	if len(input.Data) == 0 {
		return nil, models.ValidationError("document body is empty")
	}
	if input.UserID == "" {
		return nil, models.ValidationError("user_id is required")
	}

	docType := extract.DetectType(input.Filename, input.Data)

	text, pageCount, method, extractErr := p.extractText(ctx, docType, input.Data, input.Filename, input.UserID)
	if extractErr != nil && ctx.Err() != nil {
		return nil, extractErr
	}

	return p.run(ctx, input, docType, text, pageCount, method, extractErr)
}

// ProcessText runs the pipeline for text that needs no extraction, such as
// markdown handed over by a crawl. The text is cleaned and indexed directly.
func (p *Pipeline) ProcessText(ctx context.Context, input Input, text string) (*models.Document, error) {
	if len(input.Data) == 0 {
		return nil, models.ValidationError("document body is empty")
	}
	if input.UserID == "" {
		return nil, models.ValidationError("user_id is required")
	}

	docType := extract.DetectType(input.Filename, input.Data)
	return p.run(ctx, input, docType, CleanText(text), 0, "direct", nil)
}

// run is the shared tail of the pipeline: persist bytes, record, dedup, and
// vector upload.
func (p *Pipeline) run(ctx context.Context, input Input, docType models.DocumentType, text string, pageCount int, method string, extractErr error) (*models.Document, error) {
	contentHash := object.ContentMD5(input.Data)

	// Dedup by (user, content hash): ingesting the same bytes twice yields
	// one record, and the second call returns it unchanged.
	if existing, err := p.documents.FindByContentHash(ctx, input.UserID, contentHash); err == nil && existing != nil {
		p.logger.Debug().
			Str("document_id", existing.DocumentID).
			Str("content_hash", contentHash).
			Msg("Duplicate content, returning existing document")
		return existing, nil
	}

	documentID := input.DocumentID
	if documentID == "" {
		documentID = common.NewDocumentID()
	}

	doc := &models.Document{
		DocumentID:  documentID,
		UserID:      input.UserID,
		TaskID:      input.TaskID,
		SessionID:   input.SessionID,
		Filename:    input.Filename,
		SourceURL:   input.SourceURL,
		ObjectKey:   input.ObjectKey,
		FileSize:    int64(len(input.Data)),
		Type:        docType,
		ContentHash: contentHash,
		Status:      models.DocumentStatusProcessing,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := doc.Validate(); err != nil {
		return nil, models.ValidationError("%s", err.Error())
	}

	if !input.Stored {
		if doc.ObjectKey == "" {
			if input.TaskID != "" {
				doc.ObjectKey = object.CrawlKey(input.TaskID, input.SourceURL, input.Filename)
			} else {
				doc.ObjectKey = object.UploadKey(input.UserID, input.Filename)
			}
		}
		meta := interfaces.ObjectMeta{
			OriginalFilename: input.Filename,
			UserID:           input.UserID,
		}
		if err := p.objects.VerifiedPut(ctx, doc.ObjectKey, input.Data, contentTypeFor(docType), meta); err != nil {
			return nil, fmt.Errorf("failed to store document bytes: %w", err)
		}
	}

	if err := p.documents.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	if text == "" {
		doc.Status = models.DocumentStatusProcessedNoText
		doc.Content = ""
		doc.LastError = models.NoTextMessage
		if extractErr != nil {
			p.logger.Warn().
				Str("document_id", doc.DocumentID).
				Str("filename", input.Filename).
				Err(extractErr).
				Msg("No text extracted from document")
		}
		return doc, p.finalize(ctx, doc)
	}

	doc.Content = text
	doc.PageCount = pageCount
	doc.ExtractionMethod = method

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	storeID, err := p.resolveStore(ctx, input.SessionID)
	if err == nil {
		var fileID string
		fileID, err = p.vectors.UploadText(ctx, storeID, text, input.Filename)
		if err == nil {
			doc.VectorStoreID = storeID
			doc.VectorFileID = fileID
			doc.Status = models.DocumentStatusVectorPending
		}
	}
	if err != nil {
		// No rollback: the object and the record stand, only search is
		// degraded.
		doc.Status = models.DocumentStatusVectorFailed
		doc.LastError = err.Error()
		p.logger.Warn().
			Str("document_id", doc.DocumentID).
			Err(err).
			Msg("Vector upload failed")
	}

	return doc, p.finalize(ctx, doc)
}

// extractText runs the strategy chain under the CPU semaphore.
func (p *Pipeline) extractText(ctx context.Context, docType models.DocumentType, data []byte, filename, userID string) (string, int, string, error) {
	select {
	case p.extractSem <- struct{}{}:
	case <-ctx.Done():
		return "", 0, "", ctx.Err()
	}
	defer func() { <-p.extractSem }()

	result, err := p.registry.ExtractDocument(ctx, docType, data, filename, userID)
	if err != nil {
		return "", 0, "", err
	}

	text := result.Text
	if docType == models.DocumentTypeHTML {
		text = StripTags(text)
	}
	return CleanText(text), result.PageCount, result.Method, nil
}

func (p *Pipeline) resolveStore(ctx context.Context, sessionID string) (string, error) {
	if sessionID != "" {
		return p.sessions.StoreForSession(ctx, sessionID)
	}
	return p.vectors.GetOrCreateStore(ctx, p.defaultStoreName)
}

func (p *Pipeline) finalize(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now()
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document record: %w", err)
	}
	return nil
}

func contentTypeFor(docType models.DocumentType) string {
	switch docType {
	case models.DocumentTypePDF:
		return "application/pdf"
	case models.DocumentTypeHTML:
		return "text/html"
	case models.DocumentTypeText:
		return "text/plain"
	case models.DocumentTypeImage:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}
