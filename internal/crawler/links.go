package crawler

import (
	"math"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Href patterns: quoted values first, then the unquoted form some generators
// emit. Values are resolved against the page URL before filtering.
var (
	quotedHrefRegex   = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	unquotedHrefRegex = regexp.MustCompile(`(?i)href\s*=\s*([^\s"'>]+)`)
)

// ExtractLinks pulls absolute, deduplicated links out of an HTML page.
// Fragments are stripped; javascript:, mailto:, tel: and data: links are
// dropped.
func ExtractLinks(html, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	processHref := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		normalized := resolved.String()
		if !seen[normalized] {
			seen[normalized] = true
			links = append(links, normalized)
		}
	}

	for _, match := range quotedHrefRegex.FindAllStringSubmatch(html, -1) {
		processHref(match[1])
	}
	for _, match := range unquotedHrefRegex.FindAllStringSubmatch(html, -1) {
		processHref(match[1])
	}

	return links
}

// PartitionLinks splits links into document downloads and same-host pages to
// follow. A link is a document when its path ends in one of the allowed
// document extensions; everything else on the same host is a follow link.
func PartitionLinks(links []string, baseHost string, docExtensions []string) (docLinks, followLinks []string) {
	baseHost = strings.ToLower(baseHost)

	for _, link := range links {
		parsed, err := url.Parse(link)
		if err != nil {
			continue
		}

		if isDocumentLink(parsed, docExtensions) {
			docLinks = append(docLinks, link)
			continue
		}
		if strings.ToLower(parsed.Host) == baseHost {
			followLinks = append(followLinks, link)
		}
	}
	return docLinks, followLinks
}

func isDocumentLink(u *url.URL, docExtensions []string) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || ext == ".html" || ext == ".htm" {
		return false
	}
	for _, allowed := range docExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// DepthLimit derives the follow depth from the page budget. A small budget
// crawls shallow; the depth grows logarithmically so large budgets do not
// turn into unbounded recursion.
func DepthLimit(maxPages int) int {
	if maxPages <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(maxPages)))) + 1
}
