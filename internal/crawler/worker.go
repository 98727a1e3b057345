// Package crawler runs crawl tasks: it consumes the task queue, walks pages
// from the seed URL, downloads document links, and drives every status
// transition through compare-and-set.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/storage/object"
)

// maxRecordedErrors bounds the per-task error list so a hostile site cannot
// bloat the task record.
const maxRecordedErrors = 20

// Worker consumes crawl messages and executes them. One Worker runs one
// message at a time; start several for process-level parallelism.
type Worker struct {
	queue    interfaces.Queue
	tasks    interfaces.TaskStorage
	objects  interfaces.ObjectStore
	fetcher  interfaces.Fetcher
	pipeline *pipeline.Pipeline
	logger   arbor.ILogger

	receiveWait       time.Duration
	heartbeatInterval time.Duration
	docExtensions     []string
}

// NewWorker wires a worker over the shared stores.
func NewWorker(queue interfaces.Queue, tasks interfaces.TaskStorage, objects interfaces.ObjectStore, fetcher interfaces.Fetcher, pipe *pipeline.Pipeline, cfg *common.Config, logger arbor.ILogger) *Worker {
	wait := time.Duration(cfg.Worker.WaitSeconds) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	return &Worker{
		queue:             queue,
		tasks:             tasks,
		objects:           objects,
		fetcher:           fetcher,
		pipeline:          pipe,
		logger:            logger,
		receiveWait:       wait,
		heartbeatInterval: 15 * time.Second,
		docExtensions:     cfg.Pipeline.AllowedExtensions,
	}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Msg("Crawl worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("Crawl worker stopped")
			return
		}

		msg, deleteMsg, err := w.queue.ReceiveWait(ctx, w.receiveWait)
		if err != nil {
			if errors.Is(err, models.ErrNoMessage) || ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Queue receive failed")
			continue
		}

		w.ProcessMessage(ctx, msg, deleteMsg)
	}
}

// ProcessMessage executes one crawl message end to end. The message is
// deleted only once the task has reached a terminal status; anything else
// leaves it for redelivery.
func (w *Worker) ProcessMessage(ctx context.Context, msg *models.QueueMessage, deleteMsg interfaces.DeleteFunc) {
	logger := w.logger.WithCorrelationId(msg.TaskID)

	task, err := w.tasks.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Task record gone; nothing to run.
			w.discard(deleteMsg, logger)
			return
		}
		logger.Error().Err(err).Msg("Failed to load task, leaving message for redelivery")
		return
	}

	if task.UserID != msg.UserID {
		logger.Warn().Str("task_user", task.UserID).Msg("Message user mismatch, discarding")
		w.discard(deleteMsg, logger)
		return
	}

	switch task.Status {
	case models.TaskStatusPending:
		if err := w.tasks.CompareAndSetStatus(ctx, task.TaskID, models.TaskStatusPending, models.TaskStatusRunning, nil); err != nil {
			if errors.Is(err, models.ErrCASConflict) {
				// Another worker claimed it, or it was cancelled first.
				w.resolveClaimConflict(ctx, task.TaskID, deleteMsg, logger)
				return
			}
			logger.Error().Err(err).Msg("Failed to claim task")
			return
		}
	case models.TaskStatusRunning:
		// Redelivery for a task a crashed worker left running. The URL set
		// is re-derivable from the seed, so resume; downloaded documents are
		// skipped through the progress record.
		logger.Warn().Msg("Resuming task left running by a lost worker")
	default:
		// Already terminal.
		w.discard(deleteMsg, logger)
		return
	}

	task, err = w.tasks.GetTask(ctx, msg.TaskID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload claimed task")
		return
	}

	crawlErr := w.crawl(ctx, task, logger)

	switch {
	case errors.Is(crawlErr, models.ErrCancelled):
		// Cancellation already moved the task terminal.
	case crawlErr != nil:
		w.finishTask(ctx, task.TaskID, models.TaskStatusFailed, crawlErr.Error(), logger)
	default:
		w.finishTask(ctx, task.TaskID, models.TaskStatusCompleted, "", logger)
	}

	w.discard(deleteMsg, logger)
}

// resolveClaimConflict decides what to do with the message after losing the
// PENDING→RUNNING race.
func (w *Worker) resolveClaimConflict(ctx context.Context, taskID string, deleteMsg interfaces.DeleteFunc, logger arbor.ILogger) {
	task, err := w.tasks.GetTask(ctx, taskID)
	if err != nil || task.Status.IsTerminal() {
		w.discard(deleteMsg, logger)
		return
	}
	// Another worker is running it; its own message delete will settle things.
	w.discard(deleteMsg, logger)
}

func (w *Worker) finishTask(ctx context.Context, taskID string, status models.TaskStatus, statusError string, logger arbor.ILogger) {
	err := w.tasks.CompareAndSetStatus(ctx, taskID, models.TaskStatusRunning, status, func(t *models.CrawlTask) {
		t.StatusError = statusError
	})
	if err != nil && !errors.Is(err, models.ErrCASConflict) {
		logger.Error().Err(err).Str("status", string(status)).Msg("Failed to finish task")
		return
	}
	if err == nil {
		logger.Info().Str("status", string(status)).Msg("Crawl task finished")
	}
}

func (w *Worker) discard(deleteMsg interfaces.DeleteFunc, logger arbor.ILogger) {
	if err := deleteMsg(); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete queue message")
	}
}

// pageRef is one entry of the breadth-first page walk.
type pageRef struct {
	url   string
	depth int
}

// crawl walks the site from the seed URL. It returns models.ErrCancelled when
// an external cancellation is observed at a checkpoint, and any other error
// when the task should fail.
func (w *Worker) crawl(ctx context.Context, task *models.CrawlTask, logger arbor.ILogger) error {
	totalTimeout := time.Duration(task.Timeouts.TotalTimeout) * time.Second
	if totalTimeout <= 0 {
		totalTimeout = 30 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	stopHeartbeat := w.startHeartbeat(taskCtx, task.TaskID)
	defer stopHeartbeat()

	seedURL, err := url.Parse(task.URL)
	if err != nil {
		return models.ValidationError("invalid seed url: %v", err)
	}

	state := newCrawlState(task)
	depthLimit := DepthLimit(task.Limits.MaxPages)

	frontier := []pageRef{{url: task.URL, depth: 0}}
	var docWG sync.WaitGroup
	docSem := make(chan struct{}, task.Limits.MaxWorkers)

	for len(frontier) > 0 {
		page := frontier[0]
		frontier = frontier[1:]

		if state.pagesVisited() >= task.Limits.MaxPages {
			break
		}
		if state.seenPage(page.url) {
			continue
		}

		html, err := w.fetchPage(taskCtx, task, page.url)
		state.markPageVisited(page.url)
		w.recordProgress(taskCtx, task.TaskID, func(p *models.CrawlProgress) {
			p.PagesVisited++
		})

		if err != nil {
			if taskCtx.Err() != nil {
				return fmt.Errorf("task deadline exceeded: %w", taskCtx.Err())
			}
			if page.depth == 0 {
				return fmt.Errorf("seed fetch failed: %w", err)
			}
			w.recordError(taskCtx, task.TaskID, fmt.Sprintf("page %s: %v", page.url, err))
			continue
		}

		// Checkpoint after every page fetch.
		if err := w.checkCancelled(taskCtx, task.TaskID); err != nil {
			cancel()
			docWG.Wait()
			return err
		}

		docLinks, followLinks := PartitionLinks(ExtractLinks(html, page.url), seedURL.Host, w.docExtensions)
		if len(docLinks) > 0 {
			w.recordProgress(taskCtx, task.TaskID, func(p *models.CrawlProgress) {
				p.DocumentsFound += len(docLinks)
			})
		}

		for _, link := range docLinks {
			// The object key is deterministic for a link, so claims survive a
			// resume: keys recorded by a previous attempt are pre-claimed.
			key := object.CrawlKey(task.TaskID, link, documentFilename(link))
			if !state.claimDocument(key, task.Limits.MaxDocuments) {
				continue
			}

			// Checkpoint before each document download.
			if err := w.checkCancelled(taskCtx, task.TaskID); err != nil {
				cancel()
				docWG.Wait()
				return err
			}

			docWG.Add(1)
			go func(link, key string) {
				defer docWG.Done()
				select {
				case docSem <- struct{}{}:
				case <-taskCtx.Done():
					state.releaseDocument(key)
					return
				}
				defer func() { <-docSem }()

				w.downloadDocument(taskCtx, task, link, key, state, logger)
			}(link, key)
		}

		if page.depth < depthLimit {
			for _, link := range followLinks {
				frontier = append(frontier, pageRef{url: link, depth: page.depth + 1})
			}
		}

		if delay := time.Duration(task.Timeouts.DelayMillis) * time.Millisecond; delay > 0 && len(frontier) > 0 {
			select {
			case <-time.After(delay):
			case <-taskCtx.Done():
				docWG.Wait()
				return fmt.Errorf("task deadline exceeded: %w", taskCtx.Err())
			}
		}
	}

	docWG.Wait()

	if taskCtx.Err() != nil {
		return fmt.Errorf("task deadline exceeded: %w", taskCtx.Err())
	}
	return nil
}

func (w *Worker) fetchPage(ctx context.Context, task *models.CrawlTask, pageURL string) (string, error) {
	pageTimeout := time.Duration(task.Timeouts.PageTimeout) * time.Second
	if pageTimeout <= 0 {
		pageTimeout = 60 * time.Second
	}
	pageCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	resp, err := w.fetcher.Fetch(pageCtx, pageURL, task.Policy)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// downloadDocument fetches one document link, persists the bytes under the
// task's object prefix, and hands them to the pipeline.
func (w *Worker) downloadDocument(ctx context.Context, task *models.CrawlTask, link, key string, state *crawlState, logger arbor.ILogger) {
	resp, err := w.fetcher.Fetch(ctx, link, task.Policy)
	if err != nil {
		state.releaseDocument(key)
		w.recordError(ctx, task.TaskID, fmt.Sprintf("document %s: %v", link, err))
		w.recordProgress(ctx, task.TaskID, func(p *models.CrawlProgress) {
			p.DocumentsFailed++
		})
		return
	}

	filename := documentFilename(link)
	documentID := common.NewDocumentID()

	if err := w.objects.VerifiedPut(ctx, key, resp.Body, resp.ContentType, interfaces.ObjectMeta{
		OriginalFilename: filename,
		UserID:           task.UserID,
	}); err != nil {
		state.releaseDocument(key)
		w.recordError(ctx, task.TaskID, fmt.Sprintf("store %s: %v", link, err))
		w.recordProgress(ctx, task.TaskID, func(p *models.CrawlProgress) {
			p.DocumentsFailed++
		})
		return
	}

	_, err = w.pipeline.Process(ctx, pipeline.Input{
		DocumentID: documentID,
		UserID:     task.UserID,
		TaskID:     task.TaskID,
		Filename:   filename,
		SourceURL:  link,
		Data:       resp.Body,
		ObjectKey:  key,
		Stored:     true,
	})
	if err != nil {
		state.releaseDocument(key)
		w.recordError(ctx, task.TaskID, fmt.Sprintf("process %s: %v", link, err))
		w.recordProgress(ctx, task.TaskID, func(p *models.CrawlProgress) {
			p.DocumentsFailed++
		})
		return
	}

	w.recordProgress(ctx, task.TaskID, func(p *models.CrawlProgress) {
		p.DocumentsDownloaded++
		p.DownloadedKeys = append(p.DownloadedKeys, key)
	})
	logger.Debug().Str("url", link).Str("key", key).Msg("Document downloaded")
}

// checkCancelled reloads the task and reports models.ErrCancelled when an
// external cancellation has made it terminal.
func (w *Worker) checkCancelled(ctx context.Context, taskID string) error {
	task, err := w.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil
	}
	if task.Status == models.TaskStatusCancelled {
		return models.ErrCancelled
	}
	return nil
}

func (w *Worker) startHeartbeat(ctx context.Context, taskID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.tasks.Heartbeat(ctx, taskID); err != nil && !errors.Is(err, models.ErrIllegalState) {
					w.logger.Debug().Err(err).Str("task_id", taskID).Msg("Heartbeat failed")
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (w *Worker) recordProgress(ctx context.Context, taskID string, patch func(*models.CrawlProgress)) {
	if err := w.tasks.UpdateProgress(ctx, taskID, patch); err != nil && !errors.Is(err, models.ErrIllegalState) {
		w.logger.Debug().Err(err).Str("task_id", taskID).Msg("Progress update failed")
	}
}

func (w *Worker) recordError(ctx context.Context, taskID, message string) {
	w.recordProgress(ctx, taskID, func(p *models.CrawlProgress) {
		if len(p.Errors) < maxRecordedErrors {
			p.Errors = append(p.Errors, message)
		}
	})
}

func documentFilename(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || path.Base(parsed.Path) == "/" || path.Base(parsed.Path) == "." {
		return "document"
	}
	return path.Base(parsed.Path)
}

// crawlState tracks per-crawl bookkeeping shared between the page walk and
// the document goroutines. Documents already downloaded in a previous attempt
// of the same task are pre-claimed so a resume does not repeat them.
type crawlState struct {
	mu         sync.Mutex
	pages      map[string]bool
	claimed    map[string]bool
	docsTotal  int
	pagesCount int
}

func newCrawlState(task *models.CrawlTask) *crawlState {
	s := &crawlState{
		pages:      make(map[string]bool),
		claimed:    make(map[string]bool),
		docsTotal:  task.Progress.DocumentsDownloaded,
		pagesCount: task.Progress.PagesVisited,
	}
	for _, key := range task.Progress.DownloadedKeys {
		s.claimed[key] = true
	}
	return s
}

func (s *crawlState) seenPage(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[url]
}

func (s *crawlState) markPageVisited(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pages[url] {
		s.pages[url] = true
		s.pagesCount++
	}
}

func (s *crawlState) pagesVisited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesCount
}

// claimDocument reserves a download slot for the object key. It fails when
// the key was already claimed or the document budget is spent.
func (s *crawlState) claimDocument(key string, maxDocuments int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[key] || s.docsTotal >= maxDocuments {
		return false
	}
	s.claimed[key] = true
	s.docsTotal++
	return true
}

// releaseDocument returns a failed download's budget slot.
func (s *crawlState) releaseDocument(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, key)
	s.docsTotal--
}
