package vector

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	readinessAttempts = 3
	readinessBackoff  = time.Second // grows linearly, capped by attempts at 3s total
)

// SearchWithWait runs a search, briefly waiting for indexing to settle when
// files exist but none has completed yet. The wait is bounded; if the store
// never becomes ready the search runs anyway and returns what it can.
func SearchWithWait(ctx context.Context, index interfaces.VectorIndex, logger arbor.ILogger, storeID, query string, limit int, threshold float32) ([]models.VectorSearchResult, error) {
	for attempt := 0; attempt < readinessAttempts; attempt++ {
		ready, err := storeReady(ctx, index, storeID)
		if err != nil {
			return nil, err
		}
		if ready {
			break
		}

		backoff := time.Duration(attempt+1) * readinessBackoff
		logger.Debug().
			Str("store_id", storeID).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Store not ready, waiting for indexing")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return index.Search(ctx, storeID, query, limit, threshold)
}

// storeReady reports whether the store has no pending files. An empty store
// is ready: there is nothing to wait for.
func storeReady(ctx context.Context, index interfaces.VectorIndex, storeID string) (bool, error) {
	files, err := index.ListFiles(ctx, storeID)
	if err != nil {
		return false, err
	}
	if len(files) == 0 {
		return true, nil
	}
	for _, f := range files {
		if f.Status == models.VectorFileCompleted || f.Status == models.VectorFileFailed {
			return true, nil
		}
	}
	return false, nil
}
