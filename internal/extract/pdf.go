package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// PDFEmbeddedExtractor pulls the text layer out of digital PDFs. pdfcpu
// works on files, so bytes are staged through a temp directory.
type PDFEmbeddedExtractor struct {
	logger  arbor.ILogger
	tempDir string
}

// NewPDFEmbeddedExtractor creates the embedded-text strategy
func NewPDFEmbeddedExtractor(logger arbor.ILogger) *PDFEmbeddedExtractor {
	tempDir := filepath.Join(common.GetRuntimeProfile().TempDir, "colligo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &PDFEmbeddedExtractor{logger: logger, tempDir: tempDir}
}

func (e *PDFEmbeddedExtractor) Name() string { return "embedded" }

func (e *PDFEmbeddedExtractor) Accepts(docType models.DocumentType) bool {
	return docType == models.DocumentTypePDF
}

// Extract writes the PDF to a temp file, pulls the decoded content stream of
// each page, and parses the text operators out of it.
func (e *PDFEmbeddedExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	tempFile, err := os.CreateTemp(e.tempDir, "extract-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp PDF file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	tempFile.Close()

	pdfCtx, err := api.ReadContextFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF structure: %w", err)
	}
	if pdfCtx.Encrypt != nil {
		return nil, fmt.Errorf("PDF is password-protected")
	}
	pageCount := pdfCtx.PageCount

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		reader, err := pdfcpu.ExtractPageContent(pdfCtx, pageNum)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", pageNum).Msg("Failed to extract page content")
			continue
		}
		content, err := io.ReadAll(reader)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", pageNum).Msg("Failed to read page content")
			continue
		}
		text := strings.TrimSpace(parseContentStream(content))
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}

	return &models.ExtractionResult{
		Text:      builder.String(),
		PageCount: pageCount,
		Method:    e.Name(),
	}, nil
}

// Text-showing operators inside a content stream: (string) Tj and
// [(str1) (str2)] TJ arrays.
var (
	tjPattern = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArray   = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	tjString  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// parseContentStream recovers show-text strings from raw PDF operators.
func parseContentStream(content []byte) string {
	var parts []string

	for _, match := range tjPattern.FindAllSubmatch(content, -1) {
		parts = append(parts, decodePDFString(string(match[1])))
	}
	for _, match := range tjArray.FindAllSubmatch(content, -1) {
		for _, inner := range tjString.FindAllSubmatch(match[1], -1) {
			parts = append(parts, decodePDFString(string(inner[1])))
		}
	}

	return strings.Join(parts, " ")
}

// decodePDFString resolves the escape sequences PDF literal strings use.
func decodePDFString(s string) string {
	replacer := strings.NewReplacer(
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\(`, "(",
		`\)`, ")",
		`\\`, `\`,
	)
	return replacer.Replace(s)
}

// PDFSalvageExtractor is the last-resort PDF strategy: scan the raw bytes
// for uncompressed text operators. It only helps on PDFs whose streams are
// stored plain, which is exactly the kind structural parsers choke on.
type PDFSalvageExtractor struct{}

// NewPDFSalvageExtractor creates the salvage strategy
func NewPDFSalvageExtractor() *PDFSalvageExtractor {
	return &PDFSalvageExtractor{}
}

func (e *PDFSalvageExtractor) Name() string { return "aggressive" }

func (e *PDFSalvageExtractor) Accepts(docType models.DocumentType) bool {
	return docType == models.DocumentTypePDF
}

func (e *PDFSalvageExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	text := parseContentStream(data)
	text = strings.TrimSpace(text)

	return &models.ExtractionResult{
		Text:   text,
		Method: e.Name(),
	}, nil
}

var (
	_ interfaces.Extractor = (*PDFEmbeddedExtractor)(nil)
	_ interfaces.Extractor = (*PDFSalvageExtractor)(nil)
)
