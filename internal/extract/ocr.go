package extract

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// RemoteOCRExtractor hands scanned PDFs and images to an external OCR
// engine. The bytes are staged under a temp object key, recognized, and the
// temp object removed whether or not recognition succeeds.
type RemoteOCRExtractor struct {
	ocr    interfaces.OCRClient
	store  interfaces.ObjectStore
	logger arbor.ILogger
}

// NewRemoteOCRExtractor creates the OCR strategy
func NewRemoteOCRExtractor(ocr interfaces.OCRClient, store interfaces.ObjectStore, logger arbor.ILogger) *RemoteOCRExtractor {
	return &RemoteOCRExtractor{ocr: ocr, store: store, logger: logger}
}

func (e *RemoteOCRExtractor) Name() string { return "remote_ocr" }

func (e *RemoteOCRExtractor) Accepts(docType models.DocumentType) bool {
	return docType == models.DocumentTypePDF || docType == models.DocumentTypeImage
}

func (e *RemoteOCRExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	if e.ocr == nil || !e.ocr.Available() {
		return nil, fmt.Errorf("ocr engine not available")
	}

	tempKey := object.TempKey("ocr", userID, filename)
	if err := e.store.Put(ctx, tempKey, data, "application/octet-stream", interfaces.ObjectMeta{
		OriginalFilename: filename,
	}); err != nil {
		return nil, fmt.Errorf("failed to stage object for ocr: %w", err)
	}
	defer func() {
		if err := e.store.Delete(context.Background(), tempKey); err != nil {
			e.logger.Warn().Err(err).Str("key", tempKey).Msg("Failed to remove OCR temp object")
		}
	}()

	text, err := e.ocr.RecognizeObject(ctx, tempKey)
	if err != nil {
		return nil, fmt.Errorf("ocr recognition failed: %w", err)
	}

	return &models.ExtractionResult{
		Text:   text,
		Method: e.Name(),
	}, nil
}

// NoopOCRClient is the default when no engine is configured. It always
// reports unavailable so the chain falls through to embedded extraction.
type NoopOCRClient struct{}

func (NoopOCRClient) RecognizeObject(ctx context.Context, objectKey string) (string, error) {
	return "", fmt.Errorf("ocr not configured")
}

func (NoopOCRClient) Available() bool { return false }

var (
	_ interfaces.Extractor = (*RemoteOCRExtractor)(nil)
	_ interfaces.OCRClient = NoopOCRClient{}
)
