package doar

import (
	"testing"

	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNormalizeResponse(t *testing.T) {
	r := traceResponse{
		CategoryName:     "נמסר",
		DeliveryTypeDesc: "חבילה רגילה",
		Status:           "הפריט נמסר",
		Maslul: []traceEvent{
			{Status: "נמסר לנמען", StatusDate: "02/01/2025 14:00", BranchName: "סניף מרכז", City: "תל אביב"},
			{Status: "", StatusDate: "ignored"},
			{Status: "הגיע לסניף", StatusDate: "01/01/2025 09:00", CategoryName: "בדרך"},
		},
	}

	info := normalizeResponse(r)
	require.Equal(t, "נמסר", info.Status)
	require.Equal(t, "חבילה רגילה", info.DeliveryType)
	require.Equal(t, "הפריט נמסר", info.StatusField)

	// Maslul arrives newest-first; output is oldest-first, blanks dropped.
	require.Len(t, info.Events, 2)
	require.Equal(t, "הגיע לסניף", info.Events[0].Description)
	require.Equal(t, "נמסר לנמען", info.Events[1].Description)
	require.Equal(t, "סניף מרכז", info.Events[1].Branch)
	require.Equal(t, "02/01/2025 14:00", info.LastUpdateDate)
}

func TestNormalizeResponse_Defaults(t *testing.T) {
	info := normalizeResponse(traceResponse{})
	require.Equal(t, models.StatusUnknown, info.Status)
	require.Empty(t, info.Events)
	require.Empty(t, info.StatusField)
	require.Empty(t, info.LastUpdateDate)
}

func TestNormalizeResponse_StatusFieldFallsBackToNewestEvent(t *testing.T) {
	info := normalizeResponse(traceResponse{
		Maslul: []traceEvent{
			{Status: "newest", StatusDate: "02/01/2025"},
			{Status: "oldest", StatusDate: "01/01/2025"},
		},
	})
	require.Equal(t, "newest", info.StatusField)
}
