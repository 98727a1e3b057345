package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// minSalvageRun is the shortest printable run worth keeping. Shorter runs
// are almost always binary noise.
const minSalvageRun = 8

// ImageSalvageExtractor scans image bytes for embedded printable runs, such
// as EXIF descriptions or XMP packets. It is the fallback when OCR is not
// available; most images legitimately yield nothing.
type ImageSalvageExtractor struct{}

// NewImageSalvageExtractor creates the image fallback strategy
func NewImageSalvageExtractor() *ImageSalvageExtractor {
	return &ImageSalvageExtractor{}
}

func (e *ImageSalvageExtractor) Name() string { return "raw_salvage" }

func (e *ImageSalvageExtractor) Accepts(docType models.DocumentType) bool {
	return docType == models.DocumentTypeImage
}

func (e *ImageSalvageExtractor) Extract(ctx context.Context, data []byte, filename, userID string) (*models.ExtractionResult, error) {
	var runs []string
	var current strings.Builder

	flush := func() {
		if current.Len() >= minSalvageRun {
			runs = append(runs, current.String())
		}
		current.Reset()
	}

	for _, b := range data {
		r := rune(b)
		if r < 128 && (unicode.IsPrint(r) || r == ' ') {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return &models.ExtractionResult{
		Text:   strings.TrimSpace(strings.Join(filterSalvageRuns(runs), "\n")),
		Method: e.Name(),
	}, nil
}

// filterSalvageRuns drops runs that look like format markup rather than
// human text.
func filterSalvageRuns(runs []string) []string {
	var kept []string
	for _, run := range runs {
		letters := 0
		for _, r := range run {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters*2 >= len(run) {
			kept = append(kept, strings.TrimSpace(run))
		}
	}
	return kept
}

var _ interfaces.Extractor = (*ImageSalvageExtractor)(nil)
