package doar

import (
	"time"

	"github.com/parceldesk/parceldesk/internal/models"
)

// Wire shapes for the Israel Post item-trace API. Undocumented; decode
// defensively.
type traceEvent struct {
	Status       string `json:"Status"`
	StatusDate   string `json:"StatusDate"`
	CategoryName string `json:"CategoryName"`
	BranchName   string `json:"BranchName"`
	City         string `json:"City"`
}

type traceResponse struct {
	CategoryName     string       `json:"CategoryName"`
	DeliveryTypeDesc string       `json:"DeliveryTypeDesc"`
	Status           string       `json:"Status"`
	Maslul           []traceEvent `json:"Maslul"`
}

// normalizeResponse converts one shipment's trace into the internal shape.
// Maslul arrives newest-first; the output event list is reversed to
// oldest-first, unlike the bulk carrier's. Consumers rely on the asymmetry.
func normalizeResponse(r traceResponse) *models.TrackingInfo {
	info := &models.TrackingInfo{
		Status:     models.StatusUnknown,
		Events:     []models.TrackingEvent{},
		LastUpdate: time.Now().Format(time.RFC3339),
	}

	if r.CategoryName != "" {
		info.Status = r.CategoryName
	}
	info.DeliveryType = r.DeliveryTypeDesc

	for _, ev := range r.Maslul {
		if ev.Status == "" {
			continue
		}
		info.Events = append(info.Events, models.TrackingEvent{
			Description: ev.Status,
			Date:        ev.StatusDate,
			Category:    ev.CategoryName,
			Branch:      ev.BranchName,
			City:        ev.City,
		})
	}
	reverseEvents(info.Events)

	// Secondary status: the root field when present, else the most recent
	// built event's description.
	statusField := r.Status
	if statusField == "" && len(info.Events) > 0 {
		statusField = info.Events[len(info.Events)-1].Description
	}
	info.StatusField = statusField

	if len(info.Events) > 0 {
		info.LastUpdateDate = info.Events[len(info.Events)-1].Date
	}

	return info
}

func reverseEvents(evs []models.TrackingEvent) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
}
