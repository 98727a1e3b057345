package extract

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// makePDF builds a single-page PDF with an embedded text layer.
func makePDF(t *testing.T, text string) []byte {
	t.Helper()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(190, 8, text, "", "L", false)

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func newTestRegistry() *Registry {
	return NewRegistry(NoopOCRClient{}, object.NewMemoryStore(), common.GetLogger())
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     models.DocumentType
	}{
		{"pdf magic", "report.pdf", []byte("%PDF-1.7 junk"), models.DocumentTypePDF},
		{"magic beats extension", "notes.txt", []byte("%PDF-1.4 binary"), models.DocumentTypePDF},
		{"png magic", "photo.bin", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 1, 2}, models.DocumentTypeImage},
		{"jpeg magic", "photo", []byte{0xFF, 0xD8, 0xFF, 0xE0}, models.DocumentTypeImage},
		{"txt extension", "notes.txt", []byte("plain words"), models.DocumentTypeText},
		{"html extension", "page.html", []byte("<html></html>"), models.DocumentTypeHTML},
		{"docx extension", "memo.docx", []byte("PK..."), models.DocumentTypeOffice},
		{"unknown", "data.xyz", []byte("????"), models.DocumentTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.filename, tt.data))
		})
	}
}

func TestPDFEmbeddedExtract(t *testing.T) {
	data := makePDF(t, "Quarterly revenue grew twelve percent year over year")

	extractor := NewPDFEmbeddedExtractor(common.GetLogger())
	result, err := extractor.Extract(context.Background(), data, "report.pdf", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "embedded", result.Method)
	assert.Equal(t, 1, result.PageCount)
	assert.Contains(t, result.Text, "Quarterly revenue")
}

func TestPDFEmbeddedRejectsGarbage(t *testing.T) {
	extractor := NewPDFEmbeddedExtractor(common.GetLogger())
	_, err := extractor.Extract(context.Background(), []byte("%PDF-1.4 not a real pdf"), "bad.pdf", "user_a")
	assert.Error(t, err)
}

func TestPDFSalvageExtract(t *testing.T) {
	// Structurally broken PDF whose content stream is stored uncompressed.
	raw := []byte("%PDF-1.4\nBT /F1 12 Tf (Salvaged heading) Tj ET\n" +
		"BT [(Second) ( fragment)] TJ ET\ntruncated")

	extractor := NewPDFSalvageExtractor()
	result, err := extractor.Extract(context.Background(), raw, "broken.pdf", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "aggressive", result.Method)
	assert.Contains(t, result.Text, "Salvaged heading")
	assert.Contains(t, result.Text, "Second")
	assert.Contains(t, result.Text, "fragment")
}

func TestDecodePDFString(t *testing.T) {
	assert.Equal(t, "a(b)c\\d", decodePDFString(`a\(b\)c\\d`))
	assert.Equal(t, "line\nbreak", decodePDFString(`line\nbreak`))
}

func TestRegistryFallsBackToSalvage(t *testing.T) {
	// Corrupt structure defeats the embedded extractor, but the raw
	// operators are still there for salvage.
	raw := []byte("%PDF-1.4\nxref garbage\nBT (Recovered text from stream) Tj ET")

	result, err := newTestRegistry().ExtractDocument(context.Background(), models.DocumentTypePDF, raw, "broken.pdf", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "aggressive", result.Method)
	assert.Contains(t, result.Text, "Recovered text from stream")
}

func TestRegistryEmbeddedWinsOverSalvage(t *testing.T) {
	data := makePDF(t, "Well formed digital document")

	result, err := newTestRegistry().ExtractDocument(context.Background(), models.DocumentTypePDF, data, "good.pdf", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "embedded", result.Method)
	assert.Contains(t, result.Text, "Well formed digital document")
}

func TestRegistryNoTextOnOperatorFreePDF(t *testing.T) {
	// Broken structure defeats the embedded extractor, and there are no
	// text operators for salvage to find. The chain ends cleanly empty;
	// the caller decides that means the document has no recoverable text.
	raw := []byte("%PDF-1.4\n\x00\x01\x02 no show operators anywhere")

	result, err := newTestRegistry().ExtractDocument(context.Background(), models.DocumentTypePDF, raw, "empty.pdf", "user_a")
	require.NoError(t, err)
	assert.False(t, result.HasText())
}

func TestRegistryUnknownTypeUsesTextDecoder(t *testing.T) {
	result, err := newTestRegistry().ExtractDocument(context.Background(), models.DocumentTypeOther, []byte("opaque but readable"), "data.xyz", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "text", result.Method)
	assert.Equal(t, "opaque but readable", result.Text)
}

func TestRegistryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRegistry().ExtractDocument(ctx, models.DocumentTypeText, []byte("hello"), "a.txt", "user_a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTMLExtract(t *testing.T) {
	html := []byte(`<html><head><title>Page</title>
		<script>var tracking = true;</script>
		<style>body { color: red }</style></head>
		<body><h1>Earnings Call</h1><p>Margins improved across segments.</p></body></html>`)

	extractor := NewHTMLExtractor(common.GetLogger())
	result, err := extractor.Extract(context.Background(), html, "page.html", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "html", result.Method)
	assert.Contains(t, result.Text, "Earnings Call")
	assert.Contains(t, result.Text, "Margins improved")
	assert.NotContains(t, result.Text, "tracking")
	assert.NotContains(t, result.Text, "color: red")
}

func TestTextExtractReplacesInvalidUTF8(t *testing.T) {
	extractor := NewTextExtractor()
	result, err := extractor.Extract(context.Background(), []byte("valid \xff\xfe tail"), "notes.txt", "user_a")
	require.NoError(t, err)

	assert.Contains(t, result.Text, "valid")
	assert.Contains(t, result.Text, "tail")
	assert.True(t, result.HasText())
}

func TestImageSalvage(t *testing.T) {
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0x00, 0x44},
		[]byte("Exif\x00\x00Photograph of the downtown office building\x00\x01\x02ab")...)

	extractor := NewImageSalvageExtractor()
	result, err := extractor.Extract(context.Background(), data, "photo.jpg", "user_a")
	require.NoError(t, err)

	assert.Equal(t, "raw_salvage", result.Method)
	assert.Contains(t, result.Text, "Photograph of the downtown office building")
	// Short binary runs are dropped.
	assert.NotContains(t, result.Text, "\x01")
}

func TestImageSalvageCleanEmpty(t *testing.T) {
	result, err := newTestRegistry().ExtractDocument(context.Background(), models.DocumentTypeImage,
		[]byte{0xFF, 0xD8, 0xFF, 0x00, 0x01, 0x02, 0x03}, "blank.jpg", "user_a")
	require.NoError(t, err)

	assert.False(t, result.HasText())
	assert.Equal(t, "none", result.Method)
}
