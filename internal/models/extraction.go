package models

// ExtractionResult is the outcome of one extraction strategy. Text may be
// empty even on success when the strategy ran cleanly but found nothing.
type ExtractionResult struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count,omitempty"`
	Method    string `json:"method"`
}

// HasText reports whether the result carries usable content.
func (r *ExtractionResult) HasText() bool {
	return r != nil && r.Text != ""
}
