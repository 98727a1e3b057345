package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// TextExtractor decodes plain-text payloads. Invalid UTF-8 sequences become
// replacement runes rather than failing the document.
type TextExtractor struct{}

// NewTextExtractor creates the plain-text strategy
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) Accepts(docType models.DocumentType) bool {
	switch docType {
	case models.DocumentTypeText, models.DocumentTypeOffice, models.DocumentTypeOther:
		return true
	}
	return false
}

func (e *TextExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		text = strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}

	return &models.ExtractionResult{
		Text:   strings.TrimSpace(text),
		Method: e.Name(),
	}, nil
}

var _ interfaces.Extractor = (*TextExtractor)(nil)
