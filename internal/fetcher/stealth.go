package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// ChromeStealth renders pages through a headless browser. It exists for
// hosts that gate content behind JavaScript or fingerprint plain clients.
type ChromeStealth struct {
	userAgent string
	timeout   time.Duration
	waitTime  time.Duration
	logger    arbor.ILogger
}

// NewChromeStealth builds the stealth tier renderer.
func NewChromeStealth(userAgent string, timeout time.Duration, logger arbor.ILogger) *ChromeStealth {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChromeStealth{
		userAgent: userAgent,
		timeout:   timeout,
		waitTime:  3 * time.Second,
		logger:    logger,
	}
}

// Render navigates to url and returns the rendered DOM as the body.
func (s *ChromeStealth) Render(ctx context.Context, url string, policy models.FetchPolicy) (*models.FetchResponse, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(s.userAgent),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if policy.BlockResources {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer browserCancel()

	renderCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	var html string
	var statusCode int64 = http.StatusOK

	chromedp.ListenTarget(renderCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && resp.Response.URL == url {
				statusCode = resp.Response.Status
			}
		}
	})

	err := chromedp.Run(renderCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(s.waitTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("stealth render of %s failed: %w", url, err)
	}

	s.logger.Debug().
		Str("url", url).
		Int("bytes", len(html)).
		Msg("Stealth render complete")

	return &models.FetchResponse{
		StatusCode:  int(statusCode),
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		FinalURL:    url,
		Tier:        models.FetchTierStealth,
	}, nil
}

var _ StealthFetcher = (*ChromeStealth)(nil)
