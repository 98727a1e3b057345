package models

// VectorFileStatus reflects indexing progress of one uploaded text.
type VectorFileStatus string

const (
	VectorFileUploaded   VectorFileStatus = "uploaded"
	VectorFileProcessing VectorFileStatus = "processing"
	VectorFileCompleted  VectorFileStatus = "completed"
	VectorFileFailed     VectorFileStatus = "failed"
)

// VectorFile describes a file registered with a vector store.
type VectorFile struct {
	FileID   string           `json:"file_id"`
	StoreID  string           `json:"store_id"`
	Filename string           `json:"filename"`
	Status   VectorFileStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
	Chunks   int              `json:"chunks"`
}

// VectorSearchResult is one scored hit from a similarity search.
type VectorSearchResult struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}
