package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestDocument(id, userID, hash string) *models.Document {
	return &models.Document{
		DocumentID:  id,
		UserID:      userID,
		TaskID:      "task_1",
		Filename:    "report.pdf",
		ObjectKey:   "users/" + userID + "/documents/" + id + "/report.pdf",
		ContentHash: hash,
		Type:        models.DocumentTypePDF,
		Status:      models.DocumentStatusUploaded,
	}
}

func TestFindByContentHashScopedToUser(t *testing.T) {
	db := newTestDB(t)
	storage := NewDocumentStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateDocument(ctx, newTestDocument("doc_1", "user_a", "abc123")))
	require.NoError(t, storage.CreateDocument(ctx, newTestDocument("doc_2", "user_b", "abc123")))

	// Same bytes uploaded by a different user are not a duplicate.
	found, err := storage.FindByContentHash(ctx, "user_a", "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "doc_1", found.DocumentID)

	found, err = storage.FindByContentHash(ctx, "user_a", "other")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDocumentOriginInvariant(t *testing.T) {
	db := newTestDB(t)
	storage := NewDocumentStorage(db, common.GetLogger())
	ctx := context.Background()

	doc := newTestDocument("doc_3", "user_a", "h1")
	doc.SessionID = "sess_1"

	err := storage.CreateDocument(ctx, doc)
	assert.Error(t, err)
}

func TestDeleteDocumentsByTaskCascade(t *testing.T) {
	db := newTestDB(t)
	storage := NewDocumentStorage(db, common.GetLogger())
	ctx := context.Background()

	for i, id := range []string{"doc_a", "doc_b"} {
		doc := newTestDocument(id, "user_a", "hash"+string(rune('0'+i)))
		require.NoError(t, storage.CreateDocument(ctx, doc))
	}

	other := newTestDocument("doc_c", "user_a", "hashz")
	other.TaskID = "task_2"
	require.NoError(t, storage.CreateDocument(ctx, other))

	require.NoError(t, storage.DeleteDocumentsByTask(ctx, "task_1"))

	_, err := storage.GetDocument(ctx, "doc_a")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	remaining, err := storage.ListDocumentsByTask(ctx, "task_2")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDocumentOwnershipReadsAsNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewDocumentStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateDocument(ctx, newTestDocument("doc_4", "user_a", "h4")))

	_, err := storage.GetDocumentForUser(ctx, "doc_4", "user_b")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
