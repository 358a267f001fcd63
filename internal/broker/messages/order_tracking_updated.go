package messages

import "time"

// OrderTrackingUpdated is published after a refresh touches an order, so
// external consumers (dashboards, notifiers) can react without polling the
// orders API.
type OrderTrackingUpdated struct {
	OrderID        int       `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	Status         string    `json:"status,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`

	Error string `json:"error,omitempty"`
}
