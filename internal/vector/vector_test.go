package vector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()

	index, err := NewChromemIndex(&common.VectorStoreConfig{
		Path: t.TempDir(),
	}, NewLocalEmbedder(), common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	return index
}

func waitCompleted(t *testing.T, index *ChromemIndex, storeID, fileID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, err := index.FileStatus(context.Background(), storeID, fileID)
		require.NoError(t, err)
		if f.Status == models.VectorFileCompleted {
			return
		}
		if f.Status == models.VectorFileFailed {
			t.Fatalf("indexing failed: %s", f.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("indexing did not complete in time")
}

func TestGetOrCreateStoreConverges(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	a, err := index.GetOrCreateStore(ctx, "Stock Market Data")
	require.NoError(t, err)
	b, err := index.GetOrCreateStore(ctx, "Stock Market Data")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	stores, err := index.ListStores(ctx)
	require.NoError(t, err)
	assert.Len(t, stores, 1)
}

func TestUploadAndSearch(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	storeID, err := index.GetOrCreateStore(ctx, "docs")
	require.NoError(t, err)

	fileID, err := index.UploadText(ctx, storeID, "quarterly revenue grew twelve percent on strong cloud sales", "report.txt")
	require.NoError(t, err)
	waitCompleted(t, index, storeID, fileID)

	_, err = index.UploadText(ctx, storeID, "the recipe calls for flour butter and three eggs", "recipe.txt")
	require.NoError(t, err)

	results, err := SearchWithWait(ctx, index, common.GetLogger(), storeID, "revenue growth cloud", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "report.txt", results[0].Filename)
	assert.Equal(t, fileID, results[0].FileID)
}

func TestSearchThresholdFilters(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	storeID, err := index.GetOrCreateStore(ctx, "docs")
	require.NoError(t, err)

	fileID, err := index.UploadText(ctx, storeID, "completely unrelated content about gardening", "garden.txt")
	require.NoError(t, err)
	waitCompleted(t, index, storeID, fileID)

	results, err := index.Search(ctx, storeID, "quantum chromodynamics lattice", 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmptyStore(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	storeID, err := index.GetOrCreateStore(ctx, "empty")
	require.NoError(t, err)

	results, err := index.Search(ctx, storeID, "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteFileRemovesChunks(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	storeID, err := index.GetOrCreateStore(ctx, "docs")
	require.NoError(t, err)

	fileID, err := index.UploadText(ctx, storeID, "text to be deleted shortly", "gone.txt")
	require.NoError(t, err)
	waitCompleted(t, index, storeID, fileID)

	require.NoError(t, index.DeleteFile(ctx, storeID, fileID))

	results, err := index.Search(ctx, storeID, "deleted shortly", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = index.FileStatus(ctx, storeID, fileID)
	assert.Error(t, err)
}

func TestChunkTextOverlap(t *testing.T) {
	short := ChunkText("hello world")
	assert.Len(t, short, 1)

	long := make([]rune, 5000)
	for i := range long {
		long[i] = rune('a' + i%26)
	}
	chunks := ChunkText(string(long))
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 2000)
	}
}

func TestSessionManagerLRUBound(t *testing.T) {
	index := newTestIndex(t)
	mgr := NewSessionManager(index, 2, common.GetLogger())
	ctx := context.Background()

	ids := []string{}
	for i := 0; i < 3; i++ {
		sessionID := fmt.Sprintf("sess_%d_abcdef", i)
		storeID, err := mgr.StoreForSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStoreName(sessionID), storeID)
		ids = append(ids, sessionID)
	}

	assert.Equal(t, 2, mgr.CacheLen())

	// Evicted session still resolves to the same backend store.
	storeID, err := mgr.StoreForSession(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.SessionStoreName(ids[0]), storeID)

	stores, err := index.ListStores(ctx)
	require.NoError(t, err)
	assert.Len(t, stores, 3)
}

func TestSessionStoreNaming(t *testing.T) {
	assert.Equal(t, "session_abcd1234", models.SessionStoreName("abcd1234-rest-ignored"))
	assert.Equal(t, "session_ab", models.SessionStoreName("ab"))
}
