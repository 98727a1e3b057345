// Package object implements the verified object store over an S3-compatible
// backend. Every durable write is read back and hash-checked before the
// caller proceeds.
package object

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key builders for the canonical object layout. Upload and temp keys embed a
// creation epoch plus a random suffix so repeated uploads of the same
// filename never collide; crawl keys are derived deterministically from the
// source URL so a resumed crawl maps each link to the same key.

// UploadKey places a user upload under uploaded_documents/{user}/.
func UploadKey(userID, filename string) string {
	return fmt.Sprintf("uploaded_documents/%s/%s", userID, stampedName(filename))
}

// CrawlKey places a crawled artifact under crawled/{task}/ at a path derived
// from the source URL.
func CrawlKey(taskID, sourceURL, filename string) string {
	return fmt.Sprintf("crawled/%s/%s", taskID, relativePathSafe(sourceURL, filename))
}

// TempKey places a short-lived artifact under temp/{purpose}/{user}/.
func TempKey(purpose, userID, filename string) string {
	return fmt.Sprintf("temp/%s/%s/%s", purpose, userID, stampedName(filename))
}

// TaskPrefix is the key prefix shared by every artifact of one crawl task.
func TaskPrefix(taskID string) string {
	return fmt.Sprintf("crawled/%s/", taskID)
}

// stampedName builds "{epoch}_{rand8}{ext}" from the original filename.
func stampedName(filename string) string {
	rand8 := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ext := strings.ToLower(path.Ext(sanitizeFilename(filename)))
	return fmt.Sprintf("%d_%s%s", time.Now().Unix(), rand8, ext)
}

// relativePathSafe flattens a source URL into a single safe path segment.
// The derivation is deterministic: the same URL always yields the same key.
func relativePathSafe(sourceURL, filename string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		if safe := sanitizeSegment(sanitizeFilename(filename)); safe != "" && safe != "file" {
			return safe
		}
		return "index"
	}

	var parts []string
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg = sanitizeSegment(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "index"
	}

	safe := strings.Join(parts, "_")
	if u.RawQuery != "" {
		safe += "_" + sanitizeSegment(u.RawQuery)
	}
	return safe
}

// sanitizeSegment keeps [a-zA-Z0-9._-] and collapses everything else to '_'.
// ".." is neutralized so URL input cannot walk out of the prefix.
func sanitizeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.ReplaceAll(b.String(), "..", "_")
}

func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.ReplaceAll(base, "..", "_")
	if base == "" || base == "." || base == "/" {
		return "file"
	}
	return base
}
