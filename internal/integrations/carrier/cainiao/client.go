package cainiao

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parceldesk/parceldesk/internal/integrations/carrier"
	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/pkg/errors"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:144.0) Gecko/20100101 Firefox/144.0"

// Client talks to the Cainiao global detail endpoint. One request can carry
// many mail numbers, which is what the auto-update pass relies on.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://global.cainiao.com"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "cainiao" }

// Skip excludes orders whose effective status is exactly "delivered";
// re-polling those is wasted quota.
func (c *Client) Skip(o *models.Order) bool {
	return carrier.IsDelivered(o)
}

// Apply replaces the bulk payload wholesale and lifts status/order date
// onto the order.
func (c *Client) Apply(o *models.Order, info *models.TrackingInfo) {
	o.TrackingInfo = info
	carrier.ApplyTrackingFields(o, info)
}

// Fetch resolves all numbers in one round trip. Transport or parse failure
// yields an empty map: callers treat absent identifiers as not-updated.
func (c *Client) Fetch(ctx context.Context, trackingNumbers []string) map[string]*models.TrackingInfo {
	results := map[string]*models.TrackingInfo{}
	if len(trackingNumbers) == 0 {
		return results
	}

	resp, err := c.query(ctx, trackingNumbers)
	if err != nil {
		slog.Error("cainiao bulk fetch", "count", len(trackingNumbers), "error", err.Error())
		return results
	}
	if !resp.Success {
		return results
	}

	for _, m := range resp.Module {
		if m.MailNo == "" {
			continue
		}
		results[m.MailNo] = normalizeModule(m)
	}
	return results
}

// FetchOne is the route-facing single lookup. It returns nil when the
// carrier has no record for the number, and an error-tagged placeholder on
// transport/parse failures, so a single bad lookup never raises.
func (c *Client) FetchOne(ctx context.Context, trackingNumber string) *models.TrackingInfo {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil
	}

	resp, err := c.query(ctx, []string{trackingNumber})
	if err != nil {
		slog.Error("cainiao fetch", "tracking_number", trackingNumber, "error", err.Error())
		return errorInfo(err.Error())
	}
	if !resp.Success || len(resp.Module) == 0 {
		return nil
	}
	return normalizeModule(resp.Module[0])
}

func (c *Client) query(ctx context.Context, trackingNumbers []string) (*detailResponse, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/global/detail.json"

	q := u.Query()
	q.Set("mailNos", strings.Join(trackingNumbers, ","))
	q.Set("lang", "en-US")
	q.Set("language", "en-US")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", c.baseURL+"/newDetail.htm?mailNoList="+strings.Join(trackingNumbers, "%2C")+"&otherMailNoList=")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("cainiao http %d", resp.StatusCode)
	}

	var r detailResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &r, nil
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
