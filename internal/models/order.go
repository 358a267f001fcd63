package models

// Display statuses. Carriers report free text; these are the sentinels the
// sync core cares about.
const (
	StatusUnknown   = "Unknown"
	StatusError     = "Error"
	StatusPending   = "Pending"
	StatusDelivered = "Delivered"
)

// Order is one purchased item being tracked. Product fields come from the
// import/route side and are carried opaquely; the sync core only touches
// Status, OrderDate and the two tracking payloads.
type Order struct {
	ID             int    `json:"id"`
	ProductTitle   string `json:"product_title,omitempty"`
	ProductImage   string `json:"product_image,omitempty"`
	ProductURL     string `json:"product_url,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
	AddedDate      string `json:"added_date,omitempty"`
	OrderDate      string `json:"order_date,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	Price          string `json:"price,omitempty"`

	SubItems []SubItem `json:"sub_items,omitempty"`

	// TrackingInfo is the bulk-carrier payload, DoarTrackingInfo the keyed
	// one. Separate keys so the two sources never overwrite each other.
	TrackingInfo     *TrackingInfo `json:"tracking_info"`
	DoarTrackingInfo *TrackingInfo `json:"doar_tracking_info,omitempty"`
}

type SubItem struct {
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	ProductURL   string `json:"product_url"`
	ProductImage string `json:"product_image"`
	Price        string `json:"price,omitempty"`
}

// TrackingInfo is one carrier's normalized view of a shipment.
// Error being non-empty means this is a failure placeholder, not tracking
// data; merge logic must never apply it to an order.
type TrackingInfo struct {
	Status string          `json:"status"`
	Events []TrackingEvent `json:"events"`

	Carrier      string `json:"carrier,omitempty"`
	DeliveryType string `json:"delivery_type,omitempty"`

	// LatestDesc mirrors the bulk carrier's most recent event description.
	// The json key preserves the upstream field's spelling.
	LatestDesc  string `json:"latest_standerd_desc,omitempty"`
	StatusField string `json:"status_field,omitempty"`

	// Boundary dates derived from the event set, not wall clock.
	EarliestDate   string `json:"earliest_date,omitempty"`
	LastUpdateDate string `json:"last_update_date,omitempty"`

	// LastUpdate is when this payload was fetched.
	LastUpdate string `json:"last_update"`

	Error string `json:"error,omitempty"`
}

type TrackingEvent struct {
	Description string `json:"description"`
	Date        string `json:"date"`

	// Bulk-carrier extra.
	NodeDesc string `json:"nodeDesc,omitempty"`

	// Keyed-carrier extras.
	Category string `json:"category,omitempty"`
	Branch   string `json:"branch,omitempty"`
	City     string `json:"city,omitempty"`
}
