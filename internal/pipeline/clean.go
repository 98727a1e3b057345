package pipeline

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText normalizes extracted text for indexing: whitespace runs collapse
// to single spaces and the result is trimmed. Layout beyond that is not
// preserved.
func CleanText(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// StripTags removes any markup that survived extraction. Extractors already
// drop script and style blocks; this catches inline tags in salvaged text.
func StripTags(text string) string {
	return tagPattern.ReplaceAllString(text, " ")
}
