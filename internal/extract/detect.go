// Package extract detects document types and recovers text from them
// through ordered strategy chains.
package extract

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

var magicPrefixes = []struct {
	prefix []byte
	typ    models.DocumentType
}{
	{[]byte("%PDF"), models.DocumentTypePDF},
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, models.DocumentTypeImage}, // PNG
	{[]byte{0xFF, 0xD8, 0xFF}, models.DocumentTypeImage},                             // JPEG
	{[]byte("GIF87a"), models.DocumentTypeImage},
	{[]byte("GIF89a"), models.DocumentTypeImage},
	{[]byte("BM"), models.DocumentTypeImage},             // BMP
	{[]byte{0x49, 0x49, 0x2A, 0x00}, models.DocumentTypeImage}, // TIFF little-endian
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, models.DocumentTypeImage}, // TIFF big-endian
}

var extensionTypes = map[string]models.DocumentType{
	".pdf":  models.DocumentTypePDF,
	".jpg":  models.DocumentTypeImage,
	".jpeg": models.DocumentTypeImage,
	".png":  models.DocumentTypeImage,
	".gif":  models.DocumentTypeImage,
	".bmp":  models.DocumentTypeImage,
	".tiff": models.DocumentTypeImage,
	".txt":  models.DocumentTypeText,
	".html": models.DocumentTypeHTML,
	".htm":  models.DocumentTypeHTML,
	".doc":  models.DocumentTypeOffice,
	".docx": models.DocumentTypeOffice,
}

// DetectType resolves the document type. Magic bytes win over the extension:
// a .txt file starting with %PDF is a PDF.
func DetectType(filename string, data []byte) models.DocumentType {
	for _, m := range magicPrefixes {
		if bytes.HasPrefix(data, m.prefix) {
			return m.typ
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if typ, ok := extensionTypes[ext]; ok {
		return typ
	}

	return models.DocumentTypeOther
}

// HasPDFMagic reports whether data starts with the PDF header.
func HasPDFMagic(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}
