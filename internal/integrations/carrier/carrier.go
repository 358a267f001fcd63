package carrier

import (
	"context"
	"strings"

	"github.com/parceldesk/parceldesk/internal/models"
)

// Adapter is one tracking source. The sync service runs the same
// filter/dedupe/fetch/merge cycle against any adapter; only batching, the
// skip rule and the merge target differ per carrier.
type Adapter interface {
	Name() string

	// Fetch resolves tracking info for the given identifiers (already
	// trimmed, non-empty and deduplicated). Identifiers missing from the
	// returned map were not resolved; entries with Error set are failure
	// placeholders. Fetch never returns an error: a carrier that cannot be
	// reached yields an empty map.
	Fetch(ctx context.Context, trackingNumbers []string) map[string]*models.TrackingInfo

	// Skip reports whether the order is ineligible for a refresh this cycle.
	Skip(o *models.Order) bool

	// Apply merges a successfully fetched payload into the order.
	Apply(o *models.Order, info *models.TrackingInfo)
}

// EffectiveStatus is the tracking-derived status when present, else the
// order's own status field.
func EffectiveStatus(o *models.Order) string {
	if o.TrackingInfo != nil && o.TrackingInfo.Status != "" {
		return o.TrackingInfo.Status
	}
	return o.Status
}

// IsDelivered matches the exact status "delivered", case-insensitively.
// "delivered shipment" is not a match on purpose.
func IsDelivered(o *models.Order) bool {
	return strings.EqualFold(strings.TrimSpace(EffectiveStatus(o)), models.StatusDelivered)
}

// ApplyTrackingFields lifts carrier-reported fields onto the order itself:
// the status when it is informative, and the order date once, from the
// earliest event, never overwriting an existing one.
func ApplyTrackingFields(o *models.Order, info *models.TrackingInfo) {
	if info.Status != "" && info.Status != models.StatusUnknown {
		o.Status = info.Status
	}
	if info.EarliestDate != "" && o.OrderDate == "" {
		o.OrderDate = info.EarliestDate
	}
}
