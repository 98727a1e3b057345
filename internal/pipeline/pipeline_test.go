package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/extract"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// fakeVectorIndex records uploads without any real indexing.
type fakeVectorIndex struct {
	mu      sync.Mutex
	stores  map[string]bool
	uploads map[string]string // fileID -> text
	failing bool
	nextID  int
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{stores: make(map[string]bool), uploads: make(map[string]string)}
}

func (f *fakeVectorIndex) GetOrCreateStore(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[name] = true
	return name, nil
}

func (f *fakeVectorIndex) UploadText(ctx context.Context, storeID, text, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", fmt.Errorf("vector backend unavailable")
	}
	f.nextID++
	fileID := fmt.Sprintf("vf_%d", f.nextID)
	f.uploads[fileID] = text
	return fileID, nil
}

func (f *fakeVectorIndex) FileStatus(ctx context.Context, storeID, fileID string) (*models.VectorFile, error) {
	return &models.VectorFile{FileID: fileID, Status: models.VectorFileCompleted}, nil
}

func (f *fakeVectorIndex) ListFiles(ctx context.Context, storeID string) ([]*models.VectorFile, error) {
	return nil, nil
}

func (f *fakeVectorIndex) DeleteFile(ctx context.Context, storeID, fileID string) error { return nil }

func (f *fakeVectorIndex) Search(ctx context.Context, storeID, query string, limit int, threshold float32) ([]models.VectorSearchResult, error) {
	return nil, nil
}

func (f *fakeVectorIndex) ListStores(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeVectorIndex) DeleteStore(ctx context.Context, storeID string) error {
	return nil
}
func (f *fakeVectorIndex) Close() error { return nil }

type fakeSessions struct {
	index interfaces.VectorIndex
}

func (f *fakeSessions) StoreForSession(ctx context.Context, sessionID string) (string, error) {
	return f.index.GetOrCreateStore(ctx, models.SessionStoreName(sessionID))
}

type pipelineEnv struct {
	pipeline *Pipeline
	objects  *object.MemoryStore
	docs     interfaces.DocumentStorage
	vectors  *fakeVectorIndex
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	objects := object.NewMemoryStore()
	docs := badger.NewDocumentStorage(db, logger)
	vectors := newFakeVectorIndex()
	registry := extract.NewRegistry(extract.NoopOCRClient{}, objects, logger)

	return &pipelineEnv{
		pipeline: New(objects, docs, vectors, &fakeSessions{index: vectors}, registry, "Research Library", logger),
		objects:  objects,
		docs:     docs,
		vectors:  vectors,
	}
}

func TestProcessTextDocument(t *testing.T) {
	env := newPipelineEnv(t)

	doc, err := env.pipeline.Process(context.Background(), Input{
		UserID:    "user_a",
		SessionID: "sess_0123456789",
		Filename:  "notes.txt",
		Data:      []byte("The   merger closed\n\nin the third quarter."),
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusVectorPending, doc.Status)
	assert.Equal(t, models.DocumentTypeText, doc.Type)
	assert.Equal(t, "text", doc.ExtractionMethod)
	assert.Equal(t, "The merger closed in the third quarter.", doc.Content)
	assert.Equal(t, models.SessionStoreName("sess_0123456789"), doc.VectorStoreID)
	assert.NotEmpty(t, doc.VectorFileID)

	// Bytes made it to the object store under the upload prefix.
	assert.True(t, strings.HasPrefix(doc.ObjectKey, "uploaded_documents/user_a/"), doc.ObjectKey)
	stored, err := env.objects.Get(context.Background(), doc.ObjectKey)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "merger closed")

	// The persisted record matches what was returned.
	saved, err := env.docs.GetDocument(context.Background(), doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusVectorPending, saved.Status)
}

func TestProcessNoTextDocument(t *testing.T) {
	env := newPipelineEnv(t)

	// JPEG magic, nothing printable inside.
	doc, err := env.pipeline.Process(context.Background(), Input{
		UserID:   "user_a",
		TaskID:   "task_1",
		Filename: "scan.jpg",
		Data:     []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01, 0x02, 0x03, 0x04},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusProcessedNoText, doc.Status)
	assert.Empty(t, doc.Content)
	assert.Equal(t, models.NoTextMessage, doc.LastError)
	assert.Empty(t, doc.VectorFileID)

	// The bytes are still stored even without text.
	_, err = env.objects.Get(context.Background(), doc.ObjectKey)
	assert.NoError(t, err)
}

func TestProcessDedupReturnsExistingDocument(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()
	data := []byte("identical content uploaded twice")

	first, err := env.pipeline.Process(ctx, Input{
		UserID: "user_a", SessionID: "sess_aaaa0000", Filename: "one.txt", Data: data,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.VectorFileID)

	second, err := env.pipeline.Process(ctx, Input{
		UserID: "user_a", SessionID: "sess_aaaa0000", Filename: "two.txt", Data: data,
	})
	require.NoError(t, err)

	// The same bytes yield the same record, not a second one.
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, first.VectorFileID, second.VectorFileID)
	assert.Len(t, env.vectors.uploads, 1)

	docs, err := env.docs.ListDocumentsByUser(ctx, "user_a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProcessDedupIsPerUser(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()
	data := []byte("shared bytes, different owners")

	first, err := env.pipeline.Process(ctx, Input{
		UserID: "user_a", SessionID: "sess_aaaa0000", Filename: "a.txt", Data: data,
	})
	require.NoError(t, err)

	second, err := env.pipeline.Process(ctx, Input{
		UserID: "user_b", SessionID: "sess_bbbb0000", Filename: "b.txt", Data: data,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.VectorFileID, second.VectorFileID)
	assert.Len(t, env.vectors.uploads, 2)
}

func TestProcessVectorFailureDoesNotRollBack(t *testing.T) {
	env := newPipelineEnv(t)
	env.vectors.failing = true

	doc, err := env.pipeline.Process(context.Background(), Input{
		UserID: "user_a", TaskID: "task_1", Filename: "report.txt",
		Data: []byte("content that extracts fine"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusVectorFailed, doc.Status)
	assert.NotEmpty(t, doc.LastError)

	// Object and record survive the vector failure.
	_, err = env.objects.Get(context.Background(), doc.ObjectKey)
	assert.NoError(t, err)
	saved, err := env.docs.GetDocument(context.Background(), doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusVectorFailed, saved.Status)
}

func TestProcessRejectsEmptyBody(t *testing.T) {
	env := newPipelineEnv(t)

	_, err := env.pipeline.Process(context.Background(), Input{
		UserID: "user_a", TaskID: "task_1", Filename: "empty.txt", Data: nil,
	})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestProcessRejectsDualOrigin(t *testing.T) {
	env := newPipelineEnv(t)

	_, err := env.pipeline.Process(context.Background(), Input{
		UserID: "user_a", TaskID: "task_1", SessionID: "sess_x",
		Filename: "a.txt", Data: []byte("text"),
	})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestProcessSkipsStoreWhenAlreadyStored(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	key := "crawled/task_1/page.txt"
	require.NoError(t, env.objects.VerifiedPut(ctx, key, []byte("pre-stored body"), "text/plain", interfaces.ObjectMeta{}))
	before := env.objects.Len()

	doc, err := env.pipeline.Process(ctx, Input{
		UserID: "user_a", TaskID: "task_1", Filename: "page.txt",
		Data: []byte("pre-stored body"), ObjectKey: key, Stored: true,
	})
	require.NoError(t, err)

	assert.Equal(t, key, doc.ObjectKey)
	assert.Equal(t, before, env.objects.Len())
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("  a\t\tb\n\n c  "))
	assert.Equal(t, "", CleanText(" \n\t "))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "keep bold text", CleanText(StripTags("keep <b>bold</b> text")))
}
