package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/parceldesk/parceldesk/internal/broker/messages"
	"github.com/parceldesk/parceldesk/internal/integrations/carrier"
	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/pkg/errors"
)

// ErrNoTrackingNumber is returned by RefreshOrder for orders without a
// tracking identifier.
var ErrNoTrackingNumber = errors.New("no tracking number available")

// ErrFetchFailed is returned when the carrier produced no result at all for
// the identifier.
var ErrFetchFailed = errors.New("failed to fetch tracking information")

type Store interface {
	List(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id int) (models.Order, error)
	Update(ctx context.Context, id int, fn func(*models.Order) error) error
	Save(ctx context.Context) error
}

// Settings is the slice of runtime configuration the sync core needs.
type Settings interface {
	DoarAPIKey() string
	SetCainiaoLastUpdate(t time.Time)
	SetDoarLastUpdate(t time.Time)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service runs the fetch/normalize/merge cycle for both carriers and backs
// the manual refresh endpoints as well as the auto-update pass.
type Service struct {
	store    Store
	settings Settings
	cainiao  carrier.Adapter
	doar     carrier.Adapter

	producer Producer
	topic    string
}

func New(store Store, st Settings, cainiao, doar carrier.Adapter) *Service {
	return &Service{store: store, settings: st, cainiao: cainiao, doar: doar}
}

// WithProducer enables best-effort tracking-updated events.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) Cainiao() carrier.Adapter { return s.cainiao }
func (s *Service) Doar() carrier.Adapter    { return s.doar }

type Result struct {
	OrderID        int    `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type Summary struct {
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Total   int      `json:"total"`
	Results []Result `json:"results,omitempty"`
	Message string   `json:"message"`
}

// Eligible filters the collection down to orders the adapter should refresh
// this cycle: a non-blank tracking number, then the adapter's own skip rule.
// The second return is how many were skipped by the rule (delivered orders,
// for the bulk carrier).
func Eligible(orders []models.Order, ad carrier.Adapter) ([]models.Order, int) {
	var eligible []models.Order
	skipped := 0
	for _, o := range orders {
		if strings.TrimSpace(o.TrackingNumber) == "" {
			continue
		}
		if ad.Skip(&o) {
			skipped++
			continue
		}
		eligible = append(eligible, o)
	}
	return eligible, skipped
}

// dedupeNumbers trims and deduplicates tracking identifiers so an
// identifier shared by several orders costs one network lookup.
func dedupeNumbers(orders []models.Order) []string {
	seen := make(map[string]struct{}, len(orders))
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		tn := strings.TrimSpace(o.TrackingNumber)
		if tn == "" {
			continue
		}
		if _, ok := seen[tn]; ok {
			continue
		}
		seen[tn] = struct{}{}
		out = append(out, tn)
	}
	return out
}

// RefreshAll runs one full synchronization pass for the adapter. The
// returned error covers store failures only; per-order problems land in the
// summary.
func (s *Service) RefreshAll(ctx context.Context, ad carrier.Adapter) (Summary, error) {
	orders, err := s.store.List(ctx)
	if err != nil {
		return Summary{}, errors.Wrap(err, "list orders")
	}

	eligible, skipped := Eligible(orders, ad)
	if len(eligible) == 0 {
		msg := "No orders with tracking numbers found"
		if skipped > 0 {
			msg = fmt.Sprintf("No orders to update. %d delivered orders skipped.", skipped)
		}
		return Summary{Skipped: skipped, Message: msg}, nil
	}

	numbers := dedupeNumbers(eligible)
	slog.Info("fetching tracking",
		"carrier", ad.Name(), "unique_numbers", len(numbers), "orders", len(eligible))
	fetched := ad.Fetch(ctx, numbers)
	s.stampLastUpdate(ad.Name())

	summary := Summary{Skipped: skipped, Total: len(eligible)}
	for _, o := range eligible {
		r := s.applyResult(ctx, ad, o, fetched)
		if r.Success {
			summary.Updated++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, r)
	}

	if err := s.store.Save(ctx); err != nil {
		slog.Error("save orders", "error", err.Error())
	}

	summary.Message = fmt.Sprintf("Updated %d out of %d orders", summary.Updated, summary.Total)
	if skipped > 0 {
		summary.Message += fmt.Sprintf(" (%d delivered orders skipped)", skipped)
	}
	slog.Info("refresh-all completed", "carrier", ad.Name(),
		"updated", summary.Updated, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// applyResult merges one fetched payload into one order. Results tagged
// with an error are failure placeholders and never touch the order.
func (s *Service) applyResult(ctx context.Context, ad carrier.Adapter, o models.Order, fetched map[string]*models.TrackingInfo) Result {
	tn := strings.TrimSpace(o.TrackingNumber)
	r := Result{OrderID: o.ID, TrackingNumber: tn}

	info, ok := fetched[tn]
	switch {
	case !ok || info == nil:
		r.Error = "Tracking number not found in API response"
	case info.Error != "":
		r.Error = info.Error
	default:
		if err := s.store.Update(ctx, o.ID, func(ord *models.Order) error {
			ad.Apply(ord, info)
			return nil
		}); err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
		}
	}

	s.publish(ctx, ad.Name(), r, info)
	return r
}

// RefreshOrder is the route-facing single-order refresh. The returned info
// may carry a failure placeholder (Error set); in that case the order was
// left untouched.
func (s *Service) RefreshOrder(ctx context.Context, ad carrier.Adapter, orderID int) (models.Order, *models.TrackingInfo, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, nil, err
	}
	tn := strings.TrimSpace(o.TrackingNumber)
	if tn == "" {
		return o, nil, ErrNoTrackingNumber
	}

	info := ad.Fetch(ctx, []string{tn})[tn]
	if info == nil {
		return o, nil, ErrFetchFailed
	}

	r := Result{OrderID: o.ID, TrackingNumber: tn}
	if info.Error != "" {
		r.Error = info.Error
		s.publish(ctx, ad.Name(), r, info)
		return o, info, nil
	}

	if err := s.store.Update(ctx, o.ID, func(ord *models.Order) error {
		ad.Apply(ord, info)
		return nil
	}); err != nil {
		return o, info, err
	}
	if err := s.store.Save(ctx); err != nil {
		slog.Error("save orders", "error", err.Error())
	}

	r.Success = true
	s.publish(ctx, ad.Name(), r, info)

	updated, err := s.store.Get(ctx, orderID)
	if err != nil {
		return o, info, err
	}
	return updated, info, nil
}

// AutoUpdate is one scheduled pass: the bulk carrier completes fully
// (merge, save, stamp) before the keyed carrier starts. The keyed pass is
// skipped entirely when no credential is stored.
func (s *Service) AutoUpdate(ctx context.Context) error {
	slog.Info("auto-update: starting")

	if _, err := s.RefreshAll(ctx, s.cainiao); err != nil {
		return err
	}

	if s.settings.DoarAPIKey() == "" {
		slog.Info("auto-update: doar api key not configured, skipping")
		return nil
	}
	if _, err := s.RefreshAll(ctx, s.doar); err != nil {
		return err
	}

	slog.Info("auto-update: completed")
	return nil
}

// stampLastUpdate records that this carrier's network phase ran. Called
// only when at least one order was eligible.
func (s *Service) stampLastUpdate(name string) {
	now := time.Now()
	switch name {
	case "cainiao":
		s.settings.SetCainiaoLastUpdate(now)
	case "doar":
		s.settings.SetDoarLastUpdate(now)
	}
}

func (s *Service) publish(ctx context.Context, carrierName string, r Result, info *models.TrackingInfo) {
	if s.producer == nil {
		return
	}
	msg := messages.OrderTrackingUpdated{
		OrderID:        r.OrderID,
		TrackingNumber: r.TrackingNumber,
		Carrier:        carrierName,
		CheckedAt:      time.Now().UTC(),
		Error:          r.Error,
	}
	if r.Success && info != nil {
		msg.Status = info.Status
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(strconv.Itoa(r.OrderID)), b); err != nil {
		slog.Warn("publish tracking update", "order_id", r.OrderID, "error", err.Error())
	}
}
