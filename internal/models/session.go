package models

import (
	"fmt"
	"time"
)

// ChatSession is the boundary record linking a conversation to the content
// ingested on its behalf. The chat layer itself lives elsewhere; ingestion
// only appends document and task references.
type ChatSession struct {
	SessionID string `badgerhold:"key" json:"session_id"`
	UserID    string `badgerhold:"index" json:"user_id"`

	UploadedDocumentIDs []string `json:"uploaded_document_ids,omitempty"`
	CrawlTaskIDs        []string `json:"crawl_task_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VectorStoreName derives the session's vector store name from the first
// eight characters of the session id. Shorter ids are used whole.
func (s *ChatSession) VectorStoreName() string {
	return SessionStoreName(s.SessionID)
}

// SessionStoreName is the naming rule shared by everything that touches
// session-scoped vector stores.
func SessionStoreName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("session_%s", short)
}
