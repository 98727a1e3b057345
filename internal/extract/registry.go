package extract

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Registry holds extraction strategies in preference order. ExtractDocument
// walks the chain for the detected type; the first strategy that yields text
// wins and later strategies never run.
type Registry struct {
	strategies []interfaces.Extractor
	logger     arbor.ILogger
}

// NewRegistry builds the default chain: remote OCR ahead of embedded
// extraction ahead of salvage, then the plain decoders.
func NewRegistry(ocr interfaces.OCRClient, store interfaces.ObjectStore, logger arbor.ILogger) *Registry {
	return &Registry{
		logger: logger,
		strategies: []interfaces.Extractor{
			NewRemoteOCRExtractor(ocr, store, logger),
			NewPDFEmbeddedExtractor(logger),
			NewPDFSalvageExtractor(),
			NewImageSalvageExtractor(),
			NewHTMLExtractor(logger),
			NewTextExtractor(),
		},
	}
}

// Register appends a strategy to the chain.
func (r *Registry) Register(e interfaces.Extractor) {
	r.strategies = append(r.strategies, e)
}

// ExtractDocument runs the chain for docType. A nil error with empty text
// means every strategy ran cleanly and found nothing; the document has no
// recoverable text.
func (r *Registry) ExtractDocument(ctx context.Context, docType models.DocumentType, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	var lastErr error
	attempted := 0

	for _, strategy := range r.strategies {
		if !strategy.Accepts(docType) {
			continue
		}
		attempted++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := strategy.Extract(ctx, data, filename, userID)
		if err != nil {
			r.logger.Debug().
				Str("strategy", strategy.Name()).
				Str("filename", filename).
				Err(err).
				Msg("Extraction strategy failed, trying next")
			lastErr = err
			continue
		}
		if result.HasText() {
			r.logger.Debug().
				Str("strategy", strategy.Name()).
				Str("filename", filename).
				Int("chars", len(result.Text)).
				Msg("Extraction succeeded")
			return result, nil
		}
		lastErr = nil // clean run, just empty
	}

	if attempted == 0 {
		return nil, fmt.Errorf("no extraction strategy accepts type %s", docType)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNoText, lastErr)
	}
	return &models.ExtractionResult{Method: "none"}, nil
}
