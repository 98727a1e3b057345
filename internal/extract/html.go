package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// HTMLExtractor converts HTML documents to markdown-flavoured plain text.
// Script, style and navigation chrome are stripped before conversion so the
// indexed text is the page content, not its boilerplate.
type HTMLExtractor struct {
	logger arbor.ILogger
}

// NewHTMLExtractor creates the HTML strategy
func NewHTMLExtractor(logger arbor.ILogger) *HTMLExtractor {
	return &HTMLExtractor{logger: logger}
}

func (e *HTMLExtractor) Name() string { return "html" }

func (e *HTMLExtractor) Accepts(docType models.DocumentType) bool {
	return docType == models.DocumentTypeHTML
}

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	cleanedHTML, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize cleaned HTML: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(cleanedHTML)
	if err != nil {
		// Converter failure is not fatal. Fall back to the text nodes.
		e.logger.Debug().Err(err).Str("filename", filename).Msg("Markdown conversion failed, using text nodes")
		text = body.Text()
	}

	return &models.ExtractionResult{
		Text:   strings.TrimSpace(text),
		Method: e.Name(),
	}, nil
}

var _ interfaces.Extractor = (*HTMLExtractor)(nil)
