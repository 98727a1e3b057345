package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Extractor is one text extraction strategy. Strategies are registered in
// preference order; the first to return text wins.
type Extractor interface {
	Name() string
	Accepts(docType models.DocumentType) bool
	Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error)
}

// OCRClient performs optical character recognition on an object already
// placed in the object store. The engine behind it is not prescribed.
type OCRClient interface {
	// RecognizeObject runs OCR against the stored object and returns the
	// recognized text. Implementations should honor ctx cancellation.
	RecognizeObject(ctx context.Context, objectKey string) (string, error)

	// Available reports whether the client is configured and reachable
	// enough to attempt recognition.
	Available() bool
}

// TypeDetector resolves a document type from filename and leading bytes.
// Magic bytes win over the extension when they disagree.
type TypeDetector interface {
	DetectType(filename string, data []byte) models.DocumentType
}
