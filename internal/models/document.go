package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentType is the detected content family of a stored document.
type DocumentType string

const (
	DocumentTypePDF    DocumentType = "pdf"
	DocumentTypeImage  DocumentType = "image"
	DocumentTypeText   DocumentType = "text"
	DocumentTypeHTML   DocumentType = "html"
	DocumentTypeOffice DocumentType = "office"
	DocumentTypeOther  DocumentType = "other"
)

// DocumentStatus tracks a document through the processing pipeline.
type DocumentStatus string

const (
	DocumentStatusUploaded            DocumentStatus = "uploaded"
	DocumentStatusProcessing          DocumentStatus = "processing"
	DocumentStatusProcessed           DocumentStatus = "processed"
	DocumentStatusProcessedNoText     DocumentStatus = "processed_no_text"
	DocumentStatusVectorPending       DocumentStatus = "processed_vector_pending"
	DocumentStatusVectorFailed        DocumentStatus = "processed_vector_failed"
	DocumentStatusFailed              DocumentStatus = "failed"
)

// Document is the metadata record for one ingested file. Exactly one of
// TaskID or SessionID is set, identifying the ingestion origin.
type Document struct {
	DocumentID string `badgerhold:"key" json:"document_id"`
	UserID     string `badgerhold:"index" json:"user_id"`
	TaskID     string `badgerhold:"index" json:"task_id,omitempty"`
	SessionID  string `badgerhold:"index" json:"session_id,omitempty"`

	Filename  string       `json:"filename"`
	SourceURL string       `json:"source_url,omitempty"`
	ObjectKey string       `json:"object_key"`
	FileSize  int64        `json:"file_size"`
	Type      DocumentType `json:"document_type"`

	// ContentHash is the lowercase hex MD5 of the raw stored bytes. Together
	// with UserID it is the dedup identity of the document.
	ContentHash string `badgerhold:"index" json:"content_hash"`

	Content          string `json:"content,omitempty"`
	PageCount        int    `json:"page_count,omitempty"`
	ExtractionMethod string `json:"extraction_method,omitempty"`

	Status    DocumentStatus `badgerhold:"index" json:"status"`
	LastError string         `json:"last_error,omitempty"`

	VectorStoreID string `json:"vector_store_id,omitempty"`
	VectorFileID  string `json:"vector_file_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the origin invariant and required identity fields.
func (d *Document) Validate() error {
	if d.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if d.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if d.TaskID != "" && d.SessionID != "" {
		return fmt.Errorf("document %s has both task_id and session_id", d.DocumentID)
	}
	return nil
}

// HasText reports whether extraction produced usable content.
func (d *Document) HasText() bool {
	return d.Content != ""
}

// ToJSON serializes the document for logging and API payloads.
func (d *Document) ToJSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(data), nil
}
