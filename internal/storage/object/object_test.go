package object

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func TestVerifiedPutRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("the quick brown fox")
	key := UploadKey("user_a", "notes.txt")

	err := store.VerifiedPut(ctx, key, data, "text/plain", interfaces.ObjectMeta{
		OriginalFilename: "notes.txt",
		UserID:           "user_a",
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ContentMD5(data), info.ContentMD5)
	assert.Equal(t, int64(len(data)), info.Size)
}

func TestVerifiedPutDetectsCorruption(t *testing.T) {
	store := NewMemoryStore()
	store.Corrupt = func(key string, data []byte) []byte {
		data[0] ^= 0xFF
		return data
	}
	ctx := context.Background()

	err := store.VerifiedPut(ctx, "users/u/documents/d/f.txt", []byte("payload"), "text/plain", interfaces.ObjectMeta{})
	assert.True(t, errors.Is(err, models.ErrIntegrity))
}

func TestVerifiedPutRejectsEmptyBody(t *testing.T) {
	store := NewMemoryStore()

	err := store.VerifiedPut(context.Background(), "users/u/documents/d/f.txt", nil, "text/plain", interfaces.ObjectMeta{})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestDeletePrefixCascade(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	keep := UploadKey("user_a", "a.txt")
	require.NoError(t, store.VerifiedPut(ctx, keep, []byte("keep"), "text/plain", interfaces.ObjectMeta{}))
	for _, name := range []string{"a.pdf", "b.pdf"} {
		key := CrawlKey("task_1", "https://example.com/docs/"+name, name)
		require.NoError(t, store.VerifiedPut(ctx, key, []byte("crawl "+name), "application/pdf", interfaces.ObjectMeta{}))
	}

	require.NoError(t, store.DeletePrefix(ctx, TaskPrefix("task_1")))

	assert.Equal(t, 1, store.Len())
	_, err := store.Get(ctx, keep)
	assert.NoError(t, err)
}

func TestUploadKeyLayout(t *testing.T) {
	key := UploadKey("user_a", "Quarterly Report.PDF")

	assert.True(t, strings.HasPrefix(key, "uploaded_documents/user_a/"), key)
	assert.Regexp(t, regexp.MustCompile(`^uploaded_documents/user_a/\d+_[0-9a-f]{8}\.pdf$`), key)

	// Path traversal in the filename cannot escape the user prefix.
	key = UploadKey("user_a", "../../etc/passwd")
	assert.True(t, strings.HasPrefix(key, "uploaded_documents/user_a/"), key)
	assert.NotContains(t, key, "..")
}

func TestTempKeyLayout(t *testing.T) {
	key := TempKey("ocr", "user_a", "scan.png")
	assert.Regexp(t, regexp.MustCompile(`^temp/ocr/user_a/\d+_[0-9a-f]{8}\.png$`), key)
}

func TestCrawlKeyDeterministicFromURL(t *testing.T) {
	first := CrawlKey("task_1", "https://example.com/docs/annual report.pdf", "annual report.pdf")
	second := CrawlKey("task_1", "https://example.com/docs/annual report.pdf", "annual report.pdf")
	assert.Equal(t, first, second)
	assert.Equal(t, "crawled/task_1/docs_annual_report.pdf", first)

	key := CrawlKey("task_1", "https://example.com/../../etc/passwd", "passwd")
	assert.True(t, strings.HasPrefix(key, TaskPrefix("task_1")), key)
	assert.NotContains(t, key, "..")

	key = CrawlKey("task_1", "https://example.com/", "")
	assert.Equal(t, "crawled/task_1/index", key)

	key = CrawlKey("task_1", "https://example.com/search?q=report", "search")
	assert.Equal(t, "crawled/task_1/search_q_report", key)
}
