package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique crawl task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewDocumentID generates a unique document ID with the "doc_" prefix
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewVectorFileID generates a unique vector file ID with the "vf_" prefix
// Format: vf_<uuid>
func NewVectorFileID() string {
	return "vf_" + uuid.New().String()
}

// NewSessionID generates a unique chat session ID with the "sess_" prefix
// Format: sess_<uuid>
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}
