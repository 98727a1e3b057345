package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Fetcher retrieves web content, escalating through proxy tiers until one
// produces an acceptable response.
type Fetcher interface {
	Fetch(ctx context.Context, url string, policy models.FetchPolicy) (*models.FetchResponse, error)
}

// ContentChecker judges whether a response body is real content or a block
// page. Rejection promotes the fetch to the next tier.
type ContentChecker func(statusCode int, contentType string, body []byte) bool
