package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// FetchPolicy captures the per-task fetch behavior snapshot at creation time.
// The zero value means plain direct fetching with no rendering or proxies.
type FetchPolicy struct {
	RenderJS       bool   `json:"render_js"`
	BlockResources bool   `json:"block_resources"`
	BlockAds       bool   `json:"block_ads"`
	PremiumProxy   bool   `json:"premium_proxy"`
	StealthProxy   bool   `json:"stealth_proxy"`
	ForwardHeaders bool   `json:"forward_headers"`
	CountryCode    string `json:"country_code,omitempty"`
	OwnProxy       string `json:"own_proxy,omitempty"`
	ScrapeProfile  string `json:"scrape_profile,omitempty"`
}

// CrawlLimits bound how much work a single task may perform.
type CrawlLimits struct {
	MaxDocuments int `json:"max_documents" validate:"min=1,max=100"`
	MaxPages     int `json:"max_pages" validate:"min=1,max=1000"`
	MaxWorkers   int `json:"max_workers" validate:"min=1,max=50"`
}

// CrawlTimeouts are all expressed in seconds so they round-trip cleanly
// through JSON and TOML.
type CrawlTimeouts struct {
	RequestTimeout int `json:"request_timeout"`
	TotalTimeout   int `json:"total_timeout"`
	PageTimeout    int `json:"page_timeout"`
	DelayMillis    int `json:"delay_millis"`
}

// CrawlProgress holds the monotonic counters a worker advances while a task
// runs. Counters never decrease; Errors only grows.
type CrawlProgress struct {
	PagesVisited        int      `json:"pages_visited"`
	DocumentsFound      int      `json:"documents_found"`
	DocumentsDownloaded int      `json:"documents_downloaded"`
	DocumentsFailed     int      `json:"documents_failed"`
	Errors              []string `json:"errors,omitempty"`
	DownloadedKeys      []string `json:"downloaded_keys,omitempty"`
}

// CrawlTask is the unit of crawl work. Configuration is snapshot at creation
// so the task is self-contained once enqueued.
type CrawlTask struct {
	TaskID    string        `badgerhold:"key" json:"task_id"`
	UserID    string        `badgerhold:"index" json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	URL       string        `json:"url"`
	Limits    CrawlLimits   `json:"limits"`
	Timeouts  CrawlTimeouts `json:"timeouts"`
	Policy    FetchPolicy   `json:"fetch_policy"`

	Status      TaskStatus    `badgerhold:"index" json:"status"`
	Progress    CrawlProgress `json:"progress"`
	StatusError string        `json:"status_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// Validate enforces the structural invariants that hold regardless of status.
func (t *CrawlTask) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	if t.Status.IsTerminal() && t.CompletedAt == nil {
		return fmt.Errorf("terminal task %s missing completed_at", t.TaskID)
	}
	return nil
}

// ToJSON serializes the task for logging and API payloads.
func (t *CrawlTask) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal crawl task: %w", err)
	}
	return string(data), nil
}

// DefaultLimits returns the limits applied when the caller leaves them zero.
func DefaultLimits() CrawlLimits {
	return CrawlLimits{
		MaxDocuments: 20,
		MaxPages:     50,
		MaxWorkers:   4,
	}
}

// DefaultTimeouts returns the timeout set applied when the caller leaves
// them zero.
func DefaultTimeouts() CrawlTimeouts {
	return CrawlTimeouts{
		RequestTimeout: 30,
		TotalTimeout:   1800,
		PageTimeout:    60,
		DelayMillis:    500,
	}
}
