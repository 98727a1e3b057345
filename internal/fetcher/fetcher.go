// Package fetcher retrieves web content through a ladder of proxy tiers.
// Every fetch starts at the cheapest tier its policy allows and promotes on
// block signals; the winning tier is remembered per host.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrAllTiersExhausted is returned when even the highest permitted tier
// failed to produce an acceptable response.
var ErrAllTiersExhausted = errors.New("all fetch tiers exhausted")

// StealthFetcher renders a page through a headless browser. Wired in only
// when the stealth tier is enabled.
type StealthFetcher interface {
	Render(ctx context.Context, url string, policy models.FetchPolicy) (*models.FetchResponse, error)
}

// Client implements interfaces.Fetcher.
type Client struct {
	cfg     *common.FetcherConfig
	logger  arbor.ILogger
	checker interfaces.ContentChecker
	stealth StealthFetcher

	timeout      time.Duration
	maxBodyBytes int64

	// httpClients holds one client per non-stealth tier.
	httpClients map[models.FetchTier]*http.Client

	mu        sync.RWMutex
	hostTiers map[string]models.FetchTier

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New builds the tiered client. stealth may be nil; the stealth tier then
// reports as unavailable.
func New(cfg *common.FetcherConfig, stealth StealthFetcher, logger arbor.ILogger) (*Client, error) {
	timeout := common.Duration(cfg.RequestTimeout, 30*time.Second)
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	clients := map[models.FetchTier]*http.Client{}

	direct, err := newHTTPClient(timeout, "")
	if err != nil {
		return nil, err
	}
	clients[models.FetchTierDirect] = direct

	if cfg.StandardProxyURL != "" {
		c, err := newHTTPClient(timeout, cfg.StandardProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid standard proxy: %w", err)
		}
		clients[models.FetchTierStandard] = c
	}
	if cfg.PremiumProxyURL != "" {
		c, err := newHTTPClient(timeout, cfg.PremiumProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid premium proxy: %w", err)
		}
		clients[models.FetchTierPremium] = c
	}

	return &Client{
		cfg:          cfg,
		logger:       logger,
		checker:      DefaultContentChecker,
		stealth:      stealth,
		timeout:      timeout,
		maxBodyBytes: maxBody,
		httpClients:  clients,
		hostTiers:    make(map[string]models.FetchTier),
		limiters:     make(map[string]*rate.Limiter),
	}, nil
}

// SetContentChecker replaces the block-page detector.
func (c *Client) SetContentChecker(checker interfaces.ContentChecker) {
	if checker != nil {
		c.checker = checker
	}
}

func newHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// Fetch retrieves url, walking the tier ladder as needed. The returned
// response carries the tier that finally answered.
func (c *Client) Fetch(ctx context.Context, rawURL string, policy models.FetchPolicy) (*models.FetchResponse, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, models.ValidationError("invalid url %q", rawURL)
	}
	host := parsed.Host

	start := c.startTier(host, policy)
	var lastErr error

	for tier := start; tier <= models.FetchTierStealth; tier++ {
		if !c.tierAvailable(tier) {
			continue
		}

		if err := c.waitHost(ctx, host); err != nil {
			return nil, err
		}

		resp, err := c.fetchAtTier(ctx, rawURL, tier, policy)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("fetch aborted: %w", err)
			}
			if promotable(0, err) {
				c.logger.Debug().
					Str("url", rawURL).
					Str("tier", tier.String()).
					Err(err).
					Msg("Tier failed, promoting")
				lastErr = err
				continue
			}
			return nil, err
		}

		if promotable(resp.StatusCode, nil) || !c.checker(resp.StatusCode, resp.ContentType, resp.Body) {
			c.logger.Debug().
				Str("url", rawURL).
				Str("tier", tier.String()).
				Int("status", resp.StatusCode).
				Msg("Response rejected, promoting")
			lastErr = fmt.Errorf("tier %s rejected with status %d", tier, resp.StatusCode)
			continue
		}

		c.rememberTier(host, tier)
		resp.Tier = tier
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllTiersExhausted, lastErr)
	}
	return nil, ErrAllTiersExhausted
}

func (c *Client) fetchAtTier(ctx context.Context, rawURL string, tier models.FetchTier, policy models.FetchPolicy) (*models.FetchResponse, error) {
	if tier == models.FetchTierStealth {
		return c.stealth.Render(ctx, rawURL, policy)
	}

	client := c.httpClients[tier]
	if policy.OwnProxy != "" && tier == models.FetchTierStandard {
		own, err := newHTTPClient(c.timeout, policy.OwnProxy)
		if err != nil {
			return nil, models.ValidationError("invalid own_proxy: %v", err)
		}
		client = own
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.ValidationError("invalid request: %v", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	if tier == models.FetchTierPremium {
		country := policy.CountryCode
		if country == "" {
			country = c.cfg.DefaultCountryCode
		}
		if country != "" {
			// Geolocation hint consumed by the premium gateway.
			req.Header.Set("X-Proxy-Country", country)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, models.ValidationError("response body exceeds %d bytes", c.maxBodyBytes)
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &models.FetchResponse{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Headers:     headers,
	}, nil
}

// startTier combines the policy's minimum tier with the cached per-host tier.
func (c *Client) startTier(host string, policy models.FetchPolicy) models.FetchTier {
	min := models.FetchTierDirect
	switch {
	case policy.StealthProxy:
		min = models.FetchTierStealth
	case policy.PremiumProxy:
		min = models.FetchTierPremium
	case policy.OwnProxy != "":
		min = models.FetchTierStandard
	}

	c.mu.RLock()
	cached, ok := c.hostTiers[host]
	c.mu.RUnlock()
	if ok && cached > min {
		return cached
	}
	return min
}

func (c *Client) rememberTier(host string, tier models.FetchTier) {
	c.mu.Lock()
	c.hostTiers[host] = tier // last writer wins
	c.mu.Unlock()
}

func (c *Client) tierAvailable(tier models.FetchTier) bool {
	if tier == models.FetchTierStealth {
		return c.stealth != nil
	}
	_, ok := c.httpClients[tier]
	return ok
}

// waitHost enforces the per-host request delay.
func (c *Client) waitHost(ctx context.Context, host string) error {
	rps := c.cfg.RequestsPerSecond
	if rps <= 0 {
		return nil
	}

	c.limiterMu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
		c.limiters[host] = limiter
	}
	c.limiterMu.Unlock()

	return limiter.Wait(ctx)
}

// promotable reports whether a failure should escalate to the next tier.
func promotable(statusCode int, err error) bool {
	switch statusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}

	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	if strings.Contains(err.Error(), "tls:") {
		return true
	}

	return false
}

// DefaultContentChecker rejects obvious block pages so they promote instead
// of being stored as documents.
func DefaultContentChecker(statusCode int, contentType string, body []byte) bool {
	if statusCode < 200 || statusCode >= 300 {
		return false
	}
	if len(body) == 0 {
		return false
	}

	// Small HTML bodies on a 200 are the classic interstitial shape.
	if len(body) < 4096 && strings.Contains(contentType, "text/html") {
		lower := strings.ToLower(string(body))
		for _, marker := range []string{
			"captcha",
			"access denied",
			"request blocked",
			"verify you are a human",
			"enable javascript and cookies",
		} {
			if strings.Contains(lower, marker) {
				return false
			}
		}
	}
	return true
}

var _ interfaces.Fetcher = (*Client)(nil)
