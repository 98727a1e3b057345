package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/extract"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// fakeFetcher serves canned responses and counts fetches per URL.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string // url -> body
	types   map[string]string // url -> content type
	fails   map[string]error
	counts  map[string]int
	onFetch func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:  make(map[string]string),
		types:  make(map[string]string),
		fails:  make(map[string]error),
		counts: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, policy models.FetchPolicy) (*models.FetchResponse, error) {
	f.mu.Lock()
	f.counts[rawURL]++
	body, ok := f.pages[rawURL]
	failure := f.fails[rawURL]
	contentType := f.types[rawURL]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("unknown url %s", rawURL)
	}
	if contentType == "" {
		contentType = "text/html"
	}
	return &models.FetchResponse{
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: contentType,
		FinalURL:    rawURL,
	}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

type stubVectorIndex struct{}

func (stubVectorIndex) GetOrCreateStore(ctx context.Context, name string) (string, error) {
	return name, nil
}
func (stubVectorIndex) UploadText(ctx context.Context, storeID, text, filename string) (string, error) {
	return "vf_stub", nil
}
func (stubVectorIndex) FileStatus(ctx context.Context, storeID, fileID string) (*models.VectorFile, error) {
	return &models.VectorFile{FileID: fileID, Status: models.VectorFileCompleted}, nil
}
func (stubVectorIndex) ListFiles(ctx context.Context, storeID string) ([]*models.VectorFile, error) {
	return nil, nil
}
func (stubVectorIndex) DeleteFile(ctx context.Context, storeID, fileID string) error { return nil }
func (stubVectorIndex) Search(ctx context.Context, storeID, query string, limit int, threshold float32) ([]models.VectorSearchResult, error) {
	return nil, nil
}
func (stubVectorIndex) ListStores(ctx context.Context) ([]string, error)  { return nil, nil }
func (stubVectorIndex) DeleteStore(ctx context.Context, storeID string) error { return nil }
func (stubVectorIndex) Close() error                                      { return nil }

type stubSessions struct{}

func (stubSessions) StoreForSession(ctx context.Context, sessionID string) (string, error) {
	return models.SessionStoreName(sessionID), nil
}

type workerEnv struct {
	worker  *Worker
	tasks   interfaces.TaskStorage
	docs    interfaces.DocumentStorage
	objects *object.MemoryStore
	fetcher *fakeFetcher
	deleted bool
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	objects := object.NewMemoryStore()
	tasks := badger.NewTaskStorage(db, logger)
	docs := badger.NewDocumentStorage(db, logger)
	fetcher := newFakeFetcher()
	registry := extract.NewRegistry(extract.NoopOCRClient{}, objects, logger)
	pipe := pipeline.New(objects, docs, stubVectorIndex{}, stubSessions{}, registry, "Research Library", logger)

	cfg := common.NewDefaultConfig()
	env := &workerEnv{
		tasks:   tasks,
		docs:    docs,
		objects: objects,
		fetcher: fetcher,
	}
	env.worker = NewWorker(nil, tasks, objects, fetcher, pipe, cfg, logger)
	return env
}

func (env *workerEnv) deleteFunc() interfaces.DeleteFunc {
	return func() error {
		env.deleted = true
		return nil
	}
}

func newCrawlTask(id, userID, seedURL string) *models.CrawlTask {
	return &models.CrawlTask{
		TaskID:   id,
		UserID:   userID,
		URL:      seedURL,
		Limits:   models.DefaultLimits(),
		Timeouts: models.CrawlTimeouts{RequestTimeout: 5, TotalTimeout: 30, PageTimeout: 5},
		Status:   models.TaskStatusPending,
	}
}

func TestWorkerCompletesCrawl(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	seed := "https://example.com/index"
	env.fetcher.pages[seed] = `<html>
		<a href="/reports/annual.txt">Annual</a>
		<a href="https://example.com/about">About</a>
		<a href="https://other.example.org/offsite">Offsite</a>
	</html>`
	env.fetcher.pages["https://example.com/about"] = `<a href="/reports/q3.txt">Q3</a>`
	env.fetcher.pages["https://example.com/reports/annual.txt"] = "annual report text content"
	env.fetcher.pages["https://example.com/reports/q3.txt"] = "third quarter results text"
	env.fetcher.types["https://example.com/reports/annual.txt"] = "text/plain"
	env.fetcher.types["https://example.com/reports/q3.txt"] = "text/plain"

	task := newCrawlTask("task_ok", "user_a", seed)
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2, got.Progress.PagesVisited)
	assert.Equal(t, 2, got.Progress.DocumentsDownloaded)
	assert.True(t, env.deleted)

	// Offsite link was never followed.
	assert.Zero(t, env.fetcher.count("https://other.example.org/offsite"))

	docs, err := env.docs.ListDocumentsByTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, env.objects.Len())

	// Progress records object keys, each resolvable in the store.
	require.Len(t, got.Progress.DownloadedKeys, 2)
	for _, key := range got.Progress.DownloadedKeys {
		assert.True(t, strings.HasPrefix(key, object.TaskPrefix(task.TaskID)), key)
		_, err := env.objects.Get(ctx, key)
		assert.NoError(t, err)
	}
}

func TestWorkerSeedFailureFailsTask(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	seed := "https://example.com/missing"
	env.fetcher.fails[seed] = fmt.Errorf("connection refused")

	task := newCrawlTask("task_fail", "user_a", seed)
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.StatusError, "seed fetch failed")
	assert.True(t, env.deleted)
}

func TestWorkerRespectsDocumentLimit(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	seed := "https://example.com/"
	env.fetcher.pages[seed] = `<a href="/a.txt">a</a> <a href="/b.txt">b</a> <a href="/c.txt">c</a>`
	for _, name := range []string{"a", "b", "c"} {
		env.fetcher.pages["https://example.com/"+name+".txt"] = name + " content text"
		env.fetcher.types["https://example.com/"+name+".txt"] = "text/plain"
	}

	task := newCrawlTask("task_limit", "user_a", seed)
	task.Limits.MaxDocuments = 2
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Progress.DocumentsDownloaded)
}

func TestWorkerCancellationObservedAtCheckpoint(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	seed := "https://example.com/index"
	env.fetcher.pages[seed] = `<a href="/next">next</a>`
	env.fetcher.pages["https://example.com/next"] = `<a href="/deep">deep</a>`
	env.fetcher.pages["https://example.com/deep"] = `done`

	task := newCrawlTask("task_cancel", "user_a", seed)
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	// Cancel out of band right after the seed page comes back.
	env.fetcher.onFetch = func(url string) {
		if url == seed {
			_ = env.tasks.CompareAndSetStatus(ctx, task.TaskID, models.TaskStatusRunning, models.TaskStatusCancelled, nil)
		}
	}

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.True(t, env.deleted)
	// The follow page was never fetched.
	assert.Zero(t, env.fetcher.count("https://example.com/next"))
}

func TestWorkerUserMismatchDiscards(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := newCrawlTask("task_owner", "user_a", "https://example.com/")
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: "user_b"}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.True(t, env.deleted)
	assert.Zero(t, env.fetcher.count("https://example.com/"))
}

func TestWorkerMissingTaskDiscards(t *testing.T) {
	env := newWorkerEnv(t)

	env.worker.ProcessMessage(context.Background(), &models.QueueMessage{TaskID: "task_gone", UserID: "user_a"}, env.deleteFunc())
	assert.True(t, env.deleted)
}

func TestWorkerResumeSkipsDownloadedDocuments(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	seed := "https://example.com/"
	docA := "https://example.com/a.txt"
	docB := "https://example.com/b.txt"
	env.fetcher.pages[seed] = `<a href="/a.txt">a</a> <a href="/b.txt">b</a>`
	env.fetcher.pages[docA] = "first document text"
	env.fetcher.pages[docB] = "second document text"
	env.fetcher.types[docA] = "text/plain"
	env.fetcher.types[docB] = "text/plain"

	// Simulate a crash after downloading docA: the task is still RUNNING and
	// its progress remembers the first download's object key.
	task := newCrawlTask("task_resume", "user_a", seed)
	task.Status = models.TaskStatusRunning
	now := time.Now()
	task.StartedAt = &now
	task.CompletedAt = nil
	task.Progress = models.CrawlProgress{
		PagesVisited:        0,
		DocumentsDownloaded: 1,
		DownloadedKeys:      []string{object.CrawlKey(task.TaskID, docA, "a.txt")},
	}
	require.NoError(t, env.tasks.CreateTask(ctx, task))

	env.worker.ProcessMessage(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}, env.deleteFunc())

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Zero(t, env.fetcher.count(docA))
	assert.Equal(t, 1, env.fetcher.count(docB))
	assert.Equal(t, 2, got.Progress.DocumentsDownloaded)
}

func TestReaperFailsStaleRunningTasks(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	stale := newCrawlTask("task_stale", "user_a", "https://example.com/")
	require.NoError(t, env.tasks.CreateTask(ctx, stale))
	require.NoError(t, env.tasks.CompareAndSetStatus(ctx, stale.TaskID, models.TaskStatusPending, models.TaskStatusRunning, func(t *models.CrawlTask) {
		old := time.Now().Add(-time.Hour)
		t.HeartbeatAt = &old
	}))

	fresh := newCrawlTask("task_fresh", "user_a", "https://example.com/")
	require.NoError(t, env.tasks.CreateTask(ctx, fresh))
	require.NoError(t, env.tasks.CompareAndSetStatus(ctx, fresh.TaskID, models.TaskStatusPending, models.TaskStatusRunning, nil))
	require.NoError(t, env.tasks.Heartbeat(ctx, fresh.TaskID))

	reaper := NewReaper(env.tasks, 5*time.Minute, "* * * * *", common.GetLogger())
	assert.Equal(t, 1, reaper.ReapOnce(ctx))

	got, err := env.tasks.GetTask(ctx, stale.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.StatusError, "worker lost")

	got, err = env.tasks.GetTask(ctx, fresh.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
}

func TestExtractLinks(t *testing.T) {
	html := `<html>
		<a href="/relative">rel</a>
		<a href='https://example.com/quoted'>q</a>
		<a href=unquoted>u</a>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:x@example.com">mail</a>
		<a href="#section">frag</a>
		<a href="/relative">dup</a>
	</html>`

	links := ExtractLinks(html, "https://example.com/base/")
	assert.ElementsMatch(t, []string{
		"https://example.com/relative",
		"https://example.com/quoted",
		"https://example.com/base/unquoted",
	}, links)
}

func TestPartitionLinks(t *testing.T) {
	links := []string{
		"https://example.com/report.pdf",
		"https://example.com/page",
		"https://example.com/index.html",
		"https://other.org/page",
		"https://other.org/offsite.pdf",
	}

	docs, follows := PartitionLinks(links, "example.com", []string{".pdf", ".txt"})
	assert.Equal(t, []string{"https://example.com/report.pdf", "https://other.org/offsite.pdf"}, docs)
	assert.Equal(t, []string{"https://example.com/page", "https://example.com/index.html"}, follows)
}

func TestDepthLimit(t *testing.T) {
	assert.Equal(t, 1, DepthLimit(1))
	assert.Equal(t, 2, DepthLimit(2))
	assert.Equal(t, 4, DepthLimit(8))
	assert.Equal(t, 7, DepthLimit(50))
}