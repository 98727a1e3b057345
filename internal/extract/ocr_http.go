package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// HTTPOCRClient talks to an external OCR service. The staged object key is
// posted to the endpoint and the recognized text comes back as JSON.
type HTTPOCRClient struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewHTTPOCRClient creates a client for the configured OCR endpoint.
func NewHTTPOCRClient(endpoint string, logger arbor.ILogger) *HTTPOCRClient {
	return &HTTPOCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
		logger:   logger,
	}
}

func (c *HTTPOCRClient) Available() bool { return c.endpoint != "" }

type ocrRequest struct {
	ObjectKey string `json:"object_key"`
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPOCRClient) RecognizeObject(ctx context.Context, objectKey string) (string, error) {
	body, err := json.Marshal(ocrRequest{ObjectKey: objectKey})
	if err != nil {
		return "", fmt.Errorf("failed to encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr endpoint returned status %d", resp.StatusCode)
	}

	var result ocrResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("failed to decode ocr response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ocr engine error: %s", result.Error)
	}

	return result.Text, nil
}

var _ interfaces.OCRClient = (*HTTPOCRClient)(nil)
