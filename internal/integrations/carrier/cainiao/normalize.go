package cainiao

import (
	"sort"
	"strings"
	"time"

	"github.com/parceldesk/parceldesk/internal/models"
)

const eventDateLayout = "2006-01-02 15:04:05"

// Wire shapes for global/detail.json. The API is undocumented; every field
// is optional and decoding must degrade instead of asserting a schema.
type detailGroup struct {
	NodeDesc string `json:"nodeDesc"`
}

type detailEvent struct {
	Desc         string       `json:"desc"`
	StanderdDesc string       `json:"standerdDesc"`
	Time         int64        `json:"time"`
	TimeStr      string       `json:"timeStr"`
	Group        *detailGroup `json:"group"`
}

type latestTrace struct {
	Group *detailGroup `json:"group"`
}

type trackModule struct {
	MailNo        string        `json:"mailNo"`
	Status        string        `json:"status"`
	StatusDesc    string        `json:"statusDesc"`
	Carrier       string        `json:"carrier"`
	CarrierName   string        `json:"carrierName"`
	OriginCountry string        `json:"originCountry"`
	DestCountry   string        `json:"destCountry"`
	LatestTrace   *latestTrace  `json:"latestTrace"`
	DetailList    []detailEvent `json:"detailList"`
}

type detailResponse struct {
	Success bool          `json:"success"`
	Module  []trackModule `json:"module"`
}

// normalizeModule converts one shipment's module into the internal shape.
// DetailList arrives newest-first; the produced event list is reversed, so
// downstream consumers see it in the order they have always seen it.
func normalizeModule(m trackModule) *models.TrackingInfo {
	info := &models.TrackingInfo{
		Status:     models.StatusUnknown,
		Events:     []models.TrackingEvent{},
		LastUpdate: time.Now().Format(time.RFC3339),
	}

	// Status: latest trace group, then the newest event's group, then the
	// module-level status fields.
	status := ""
	if m.LatestTrace != nil && m.LatestTrace.Group != nil {
		status = m.LatestTrace.Group.NodeDesc
	}
	if status == "" && len(m.DetailList) > 0 && m.DetailList[0].Group != nil {
		status = m.DetailList[0].Group.NodeDesc
	}
	if status == "" {
		status = m.StatusDesc
	}
	if status == "" {
		status = m.Status
	}
	if status != "" {
		info.Status = status
	}

	if len(m.DetailList) > 0 {
		latest := m.DetailList[0]
		info.LatestDesc = latest.StanderdDesc
		if info.LatestDesc == "" {
			info.LatestDesc = latest.Desc
		}
	}

	if m.Carrier != "" {
		info.Carrier = m.Carrier
	} else if m.CarrierName != "" {
		info.Carrier = m.CarrierName
	}
	if m.OriginCountry != "" && m.DestCountry != "" {
		info.Carrier = m.OriginCountry + " → " + m.DestCountry
	}

	for _, ev := range m.DetailList {
		desc := ev.StanderdDesc
		if desc == "" {
			desc = ev.Desc
		}
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		date := ev.TimeStr
		if date == "" && ev.Time != 0 {
			date = time.UnixMilli(ev.Time).Format(eventDateLayout)
		}
		var nodeDesc string
		if ev.Group != nil {
			nodeDesc = ev.Group.NodeDesc
		}
		info.Events = append(info.Events, models.TrackingEvent{
			Description: desc,
			NodeDesc:    nodeDesc,
			Date:        date,
		})
	}
	reverseEvents(info.Events)

	if len(info.Events) > 0 {
		earliest, latest, ok := boundaryDates(m.DetailList)
		if ok {
			info.EarliestDate = earliest
			info.LastUpdateDate = latest
		}
	}

	return info
}

// boundaryDates picks the min/max timestamped raw events and renders each,
// preferring the carrier's preformatted string over converting the epoch.
func boundaryDates(raw []detailEvent) (earliest, latest string, ok bool) {
	timed := make([]detailEvent, 0, len(raw))
	for _, ev := range raw {
		if ev.Time != 0 {
			timed = append(timed, ev)
		}
	}
	if len(timed) == 0 {
		return "", "", false
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].Time < timed[j].Time })
	return renderDate(timed[0]), renderDate(timed[len(timed)-1]), true
}

func renderDate(ev detailEvent) string {
	if ev.TimeStr != "" {
		return ev.TimeStr
	}
	return time.UnixMilli(ev.Time).Format(eventDateLayout)
}

func reverseEvents(evs []models.TrackingEvent) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
}
