// Package ingestion is the API facade over the crawl and document pipeline.
// It owns input validation and ownership filtering; foreign resources read
// as not found.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/extract"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/storage/object"
	"github.com/ternarybob/colligo/internal/vector"
)

// Service implements the ingestion facade.
type Service struct {
	storage  interfaces.StorageManager
	objects  interfaces.ObjectStore
	queue    interfaces.Queue
	vectors  interfaces.VectorIndex
	sessions interfaces.SessionStores
	pipeline *pipeline.Pipeline
	validate *validator.Validate
	logger   arbor.ILogger

	maxUploadBytes    int64
	allowedExtensions map[string]bool
	defaultStoreName  string
}

// NewService wires the facade over the shared components.
func NewService(storage interfaces.StorageManager, objects interfaces.ObjectStore, queue interfaces.Queue, vectors interfaces.VectorIndex, sessions interfaces.SessionStores, pipe *pipeline.Pipeline, cfg *common.Config, logger arbor.ILogger) *Service {
	allowed := make(map[string]bool, len(cfg.Pipeline.AllowedExtensions))
	for _, ext := range cfg.Pipeline.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}

	maxBytes := cfg.Pipeline.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	return &Service{
		storage:           storage,
		objects:           objects,
		queue:             queue,
		vectors:           vectors,
		sessions:          sessions,
		pipeline:          pipe,
		validate:          validator.New(),
		logger:            logger,
		maxUploadBytes:    maxBytes,
		allowedExtensions: allowed,
		defaultStoreName:  cfg.VectorStore.DefaultName,
	}
}

// CreateCrawlTask validates the request and writes a PENDING task record.
// The task does not run until StartCrawlTask enqueues it.
func (s *Service) CreateCrawlTask(ctx context.Context, req *interfaces.CreateCrawlRequest) (*models.CrawlTask, error) {
	if req.Limits == (models.CrawlLimits{}) {
		req.Limits = models.DefaultLimits()
	}
	if req.Timeouts == (models.CrawlTimeouts{}) {
		req.Timeouts = models.DefaultTimeouts()
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, models.ValidationError("%v", err)
	}
	if err := s.validate.Struct(&req.Limits); err != nil {
		return nil, models.ValidationError("%v", err)
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, models.ValidationError("url must be http or https")
	}

	task := &models.CrawlTask{
		TaskID:    common.NewTaskID(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		URL:       req.URL,
		Limits:    req.Limits,
		Timeouts:  req.Timeouts,
		Policy:    req.Policy,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.storage.Tasks().CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create crawl task: %w", err)
	}

	if req.SessionID != "" {
		if err := s.appendSessionTask(ctx, req.SessionID, req.UserID, task.TaskID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to link task to session")
		}
	}

	s.logger.Info().
		Str("task_id", task.TaskID).
		Str("user_id", task.UserID).
		Str("url", task.URL).
		Msg("Crawl task created")
	return task, nil
}

// StartCrawlTask enqueues a PENDING task for execution.
func (s *Service) StartCrawlTask(ctx context.Context, taskID, userID string) error {
	task, err := s.storage.Tasks().GetTaskForUser(ctx, taskID, userID)
	if err != nil {
		return err
	}

	// Re-assert PENDING through CAS so a concurrent start or cancel loses
	// cleanly instead of double-enqueueing.
	if err := s.storage.Tasks().CompareAndSetStatus(ctx, task.TaskID, models.TaskStatusPending, models.TaskStatusPending, nil); err != nil {
		if errors.Is(err, models.ErrCASConflict) {
			return models.IllegalStateError("task %s is not pending", taskID)
		}
		return err
	}

	if err := s.queue.Enqueue(ctx, &models.QueueMessage{TaskID: task.TaskID, UserID: task.UserID}); err != nil {
		return fmt.Errorf("failed to enqueue crawl task: %w", err)
	}

	s.logger.Info().Str("task_id", taskID).Msg("Crawl task enqueued")
	return nil
}

// CancelCrawlTask moves a PENDING or RUNNING task to CANCELLED. Cancelling an
// already cancelled task is a no-op.
func (s *Service) CancelCrawlTask(ctx context.Context, taskID, userID string) error {
	task, err := s.storage.Tasks().GetTaskForUser(ctx, taskID, userID)
	if err != nil {
		return err
	}

	for _, from := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning} {
		err = s.storage.Tasks().CompareAndSetStatus(ctx, task.TaskID, from, models.TaskStatusCancelled, nil)
		if err == nil {
			s.logger.Info().Str("task_id", taskID).Msg("Crawl task cancelled")
			return nil
		}
		if !errors.Is(err, models.ErrCASConflict) {
			return err
		}
	}

	current, getErr := s.storage.Tasks().GetTask(ctx, task.TaskID)
	if getErr != nil {
		return getErr
	}
	if current.Status == models.TaskStatusCancelled {
		return nil
	}
	return models.IllegalStateError("task %s cannot be cancelled from status %s", taskID, current.Status)
}

// GetCrawlTask returns the task if the caller owns it.
func (s *Service) GetCrawlTask(ctx context.Context, taskID, userID string) (*models.CrawlTask, error) {
	return s.storage.Tasks().GetTaskForUser(ctx, taskID, userID)
}

// ListCrawlTasks returns the caller's tasks, newest first.
func (s *Service) ListCrawlTasks(ctx context.Context, userID string, limit, offset int) ([]*models.CrawlTask, error) {
	return s.storage.Tasks().ListTasksByUser(ctx, userID, limit, offset)
}

// DeleteCrawlTask removes the task and cascades to its documents, their
// stored objects, and their vector files. Running tasks must be cancelled
// first.
func (s *Service) DeleteCrawlTask(ctx context.Context, taskID, userID string) error {
	task, err := s.storage.Tasks().GetTaskForUser(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusRunning {
		return models.IllegalStateError("task %s is running, cancel it before deleting", taskID)
	}

	docs, err := s.storage.Documents().ListDocumentsByTask(ctx, task.TaskID)
	if err != nil {
		return fmt.Errorf("failed to list task documents: %w", err)
	}
	for _, doc := range docs {
		s.removeVectorFile(ctx, doc)
	}

	if err := s.objects.DeletePrefix(ctx, object.TaskPrefix(task.TaskID)); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to delete task objects")
	}
	if err := s.storage.Documents().DeleteDocumentsByTask(ctx, task.TaskID); err != nil {
		return fmt.Errorf("failed to delete task documents: %w", err)
	}
	if err := s.storage.Tasks().DeleteTask(ctx, task.TaskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.logger.Info().Str("task_id", taskID).Int("documents", len(docs)).Msg("Crawl task deleted")
	return nil
}

// IngestUploadedDocument validates an upload and runs it through the full
// pipeline synchronously.
func (s *Service) IngestUploadedDocument(ctx context.Context, req *interfaces.UploadRequest) (*models.Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, models.ValidationError("%v", err)
	}
	if len(req.Data) == 0 {
		return nil, models.ValidationError("uploaded file is empty")
	}
	if int64(len(req.Data)) > s.maxUploadBytes {
		return nil, models.ValidationError("file exceeds the %d byte upload limit", s.maxUploadBytes)
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !s.allowedExtensions[ext] {
		return nil, models.ValidationError("file type %s is not supported", ext)
	}
	if ext == ".pdf" && !extract.HasPDFMagic(req.Data) {
		return nil, models.ValidationError("file %s is not a valid PDF", req.Filename)
	}

	doc, err := s.pipeline.Process(ctx, pipeline.Input{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Filename:  req.Filename,
		Data:      req.Data,
	})
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		if err := s.appendSessionDocument(ctx, req.SessionID, req.UserID, doc.DocumentID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to link document to session")
		}
	}
	return doc, nil
}

// IngestCrawledContent indexes pre-fetched markdown for a crawl task without
// running extraction.
func (s *Service) IngestCrawledContent(ctx context.Context, req *interfaces.CrawledContentRequest) (*models.Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, models.ValidationError("%v", err)
	}

	task, err := s.storage.Tasks().GetTaskForUser(ctx, req.TaskID, req.UserID)
	if err != nil {
		return nil, err
	}

	return s.pipeline.ProcessText(ctx, pipeline.Input{
		UserID:    req.UserID,
		TaskID:    task.TaskID,
		Filename:  req.Filename,
		SourceURL: req.SourceURL,
		Data:      []byte(req.Markdown),
	}, markdownToText(req.Markdown))
}

// GetDocument returns the document if the caller owns it.
func (s *Service) GetDocument(ctx context.Context, documentID, userID string) (*models.Document, error) {
	return s.storage.Documents().GetDocumentForUser(ctx, documentID, userID)
}

// ListDocuments returns the caller's documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]*models.Document, error) {
	return s.storage.Documents().ListDocumentsByUser(ctx, userID, limit, offset)
}

// DeleteDocument removes one document, its stored object, and its vector
// file.
func (s *Service) DeleteDocument(ctx context.Context, documentID, userID string) error {
	doc, err := s.storage.Documents().GetDocumentForUser(ctx, documentID, userID)
	if err != nil {
		return err
	}

	s.removeVectorFile(ctx, doc)
	if doc.ObjectKey != "" {
		if err := s.objects.Delete(ctx, doc.ObjectKey); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", doc.ObjectKey).Msg("Failed to delete stored object")
		}
	}
	return s.storage.Documents().DeleteDocument(ctx, doc.DocumentID)
}

// Query searches the session's vector store, waiting briefly for indexing to
// settle when needed.
func (s *Service) Query(ctx context.Context, req *interfaces.QueryRequest) ([]models.VectorSearchResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, models.ValidationError("%v", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	storeID, err := s.sessions.StoreForSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session store: %w", err)
	}

	return vector.SearchWithWait(ctx, s.vectors, s.logger, storeID, req.Query, limit, req.Threshold)
}

// removeVectorFile deletes the document's vector file, best effort.
func (s *Service) removeVectorFile(ctx context.Context, doc *models.Document) {
	if doc.VectorFileID == "" || doc.VectorStoreID == "" {
		return
	}

	if err := s.vectors.DeleteFile(ctx, doc.VectorStoreID, doc.VectorFileID); err != nil {
		s.logger.Warn().Err(err).
			Str("document_id", doc.DocumentID).
			Str("vector_file_id", doc.VectorFileID).
			Msg("Failed to delete vector file")
	}
}

func (s *Service) appendSessionTask(ctx context.Context, sessionID, userID, taskID string) error {
	if err := s.ensureSession(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.storage.Sessions().AppendTask(ctx, sessionID, taskID)
}

func (s *Service) appendSessionDocument(ctx context.Context, sessionID, userID, documentID string) error {
	if err := s.ensureSession(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.storage.Sessions().AppendDocument(ctx, sessionID, documentID)
}

func (s *Service) ensureSession(ctx context.Context, sessionID, userID string) error {
	_, err := s.storage.Sessions().GetSession(ctx, sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return s.storage.Sessions().UpsertSession(ctx, &models.ChatSession{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
}

var _ interfaces.Ingestion = (*Service)(nil)
