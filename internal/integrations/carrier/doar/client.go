package doar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parceldesk/parceldesk/internal/cache"
	"github.com/parceldesk/parceldesk/internal/integrations/carrier"
	"github.com/parceldesk/parceldesk/internal/models"
)

// Failure messages surfaced to users; kept stable because the frontend
// matches on some of them.
const (
	errNoAPIKey    = "Doar Israel API key not configured"
	errInvalidKey  = "Invalid API key"
	errNotFound    = "Tracking number not found"
	errTimeout     = "Request timed out. The Doar Israel API is taking too long to respond. Please try again later."
	errConnection  = "Connection error. Unable to reach Doar Israel API. Please check your internet connection."
	errParseFailed = "Failed to parse tracking data"
)

// KeyProvider supplies the stored credential, read fresh on every lookup so
// a key saved through the API takes effect without a restart.
type KeyProvider interface {
	DoarAPIKey() string
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Client looks up one tracking number per request against the Israel Post
// item-trace API. Every failure path resolves to an error-tagged payload;
// nothing here ever aborts a batch.
type Client struct {
	baseURL string
	keys    KeyProvider
	httpc   *http.Client

	cache    cache.BytesCache
	cacheTTL time.Duration

	rl          RateLimiter
	rlPerMinute int64
}

func New(baseURL string, keys KeyProvider) *Client {
	if baseURL == "" {
		baseURL = "https://apimftprd.israelpost.co.il"
	}
	return &Client{
		baseURL: baseURL,
		keys:    keys,
		httpc: &http.Client{
			// The API is slow: 10s to connect, 60s overall.
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
}

// WithCache enables best-effort response caching so repeated manual
// refreshes within the TTL do not hammer the API.
func (c *Client) WithCache(bc cache.BytesCache, ttl time.Duration) *Client {
	c.cache = bc
	c.cacheTTL = ttl
	return c
}

func (c *Client) WithRateLimiter(rl RateLimiter, perMinute int64) *Client {
	c.rl = rl
	c.rlPerMinute = perMinute
	return c
}

func (c *Client) Name() string { return "doar" }

// Skip never excludes an order: the keyed carrier re-checks delivered
// shipments too. Deliberate; do not add a delivered filter here.
func (c *Client) Skip(o *models.Order) bool { return false }

// Apply replaces only the keyed payload. Order-level status and dates stay
// owned by the bulk carrier.
func (c *Client) Apply(o *models.Order, info *models.TrackingInfo) {
	o.DoarTrackingInfo = info
}

// Fetch looks identifiers up one at a time, in sequence.
func (c *Client) Fetch(ctx context.Context, trackingNumbers []string) map[string]*models.TrackingInfo {
	results := make(map[string]*models.TrackingInfo, len(trackingNumbers))
	for _, tn := range trackingNumbers {
		if info := c.FetchOne(ctx, tn); info != nil {
			results[tn] = info
		}
	}
	return results
}

func (c *Client) FetchOne(ctx context.Context, trackingNumber string) *models.TrackingInfo {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil
	}

	apiKey := c.keys.DoarAPIKey()
	if apiKey == "" {
		return errorInfo(errNoAPIKey)
	}

	if info := c.cached(ctx, trackingNumber); info != nil {
		return info
	}

	c.throttle(ctx)

	info := c.lookup(ctx, trackingNumber, apiKey)
	if info.Error == "" {
		c.store(ctx, trackingNumber, info)
	}
	return info
}

func (c *Client) lookup(ctx context.Context, trackingNumber, apiKey string) *models.TrackingInfo {
	u := c.baseURL + "/MyPost-itemtrace/items/" + url.PathEscape(trackingNumber) + "/heb"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errorInfo(err.Error())
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			slog.Warn("doar lookup timeout", "tracking_number", trackingNumber)
			return errorInfo(errTimeout)
		}
		slog.Warn("doar lookup connection failure", "tracking_number", trackingNumber, "error", err.Error())
		return errorInfo(errConnection)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errorInfo(errInvalidKey)
	case resp.StatusCode == http.StatusNotFound:
		return errorInfo(errNotFound)
	case resp.StatusCode/100 != 2:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
		return errorInfo(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
	}

	var r traceResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errorInfo(errParseFailed)
	}
	return normalizeResponse(r)
}

func (c *Client) throttle(ctx context.Context) {
	if c.rl == nil || c.rlPerMinute <= 0 {
		return
	}
	key := "rl:doar:" + time.Now().UTC().Format("200601021504")
	allowed, n, err := c.rl.Allow(ctx, key, c.rlPerMinute, 70*time.Second)
	if err != nil {
		return // limiter outage must not block lookups
	}
	if !allowed {
		slog.Warn("doar rate limit exceeded", "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (c *Client) cached(ctx context.Context, trackingNumber string) *models.TrackingInfo {
	if c.cache == nil || c.cacheTTL <= 0 {
		return nil
	}
	b, ok, err := c.cache.Get(ctx, cacheKey(trackingNumber))
	if err != nil || !ok {
		return nil
	}
	var info models.TrackingInfo
	if json.Unmarshal(b, &info) != nil {
		return nil
	}
	return &info
}

func (c *Client) store(ctx context.Context, trackingNumber string, info *models.TrackingInfo) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, cacheKey(trackingNumber), b, c.cacheTTL)
}

func cacheKey(trackingNumber string) string {
	return "doar:" + trackingNumber + ":trace"
}

func errorInfo(msg string) *models.TrackingInfo {
	return &models.TrackingInfo{
		Status:     models.StatusError,
		Events:     []models.TrackingEvent{},
		LastUpdate: time.Now().Format(time.RFC3339),
		Error:      msg,
	}
}

var _ carrier.Adapter = (*Client)(nil)
