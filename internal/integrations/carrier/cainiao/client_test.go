package cainiao

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchBulk(t *testing.T) {
	var gotMailNos string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/global/detail.json", r.URL.Path)
		gotMailNos = r.URL.Query().Get("mailNos")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"module": [
				{"mailNo": "LP1", "status": "TRANSIT", "detailList": [{"desc": "Shipped", "time": 100, "timeStr": "2025-01-01 10:00:00"}]},
				{"mailNo": "LP2", "status": "DELIVERED"},
				{"status": "NO_MAILNO"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	results := c.Fetch(context.Background(), []string{"LP1", "LP2"})

	require.Equal(t, "LP1,LP2", gotMailNos)
	require.Len(t, results, 2)
	require.Equal(t, "TRANSIT", results["LP1"].Status)
	require.Equal(t, "Shipped", results["LP1"].Events[0].Description)
	require.Equal(t, "DELIVERED", results["LP2"].Status)
}

func TestClient_FetchFailuresYieldEmptyMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := New(srv.URL)
	require.Empty(t, c.Fetch(context.Background(), []string{"LP1"}))
	srv.Close()

	// Unreachable server behaves the same way.
	require.Empty(t, c.Fetch(context.Background(), []string{"LP1"}))

	require.Empty(t, c.Fetch(context.Background(), nil))
}

func TestClient_FetchUnsuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.Empty(t, c.Fetch(context.Background(), []string{"LP1"}))
	require.Nil(t, c.FetchOne(context.Background(), "LP1"))
}

func TestClient_FetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "LP1", r.URL.Query().Get("mailNos"))
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"success": true, "module": [{"mailNo": "LP1", "status": "TRANSIT"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	info := c.FetchOne(context.Background(), " LP1 ")
	require.NotNil(t, info)
	require.Equal(t, "TRANSIT", info.Status)

	require.Nil(t, c.FetchOne(context.Background(), "   "))
}

func TestClient_FetchOneTransportErrorPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	info := c.FetchOne(context.Background(), "LP1")
	require.NotNil(t, info)
	require.Equal(t, models.StatusError, info.Status)
	require.NotEmpty(t, info.Error)
}

func TestClient_SkipDelivered(t *testing.T) {
	c := New("")
	require.True(t, c.Skip(&models.Order{Status: "delivered"}))
	require.True(t, c.Skip(&models.Order{
		Status:       models.StatusPending,
		TrackingInfo: &models.TrackingInfo{Status: "DELIVERED"},
	}))
	require.False(t, c.Skip(&models.Order{Status: "delivered shipment"}))
	require.False(t, c.Skip(&models.Order{Status: "In Transit"}))
}

func TestClient_ApplyLiftsFields(t *testing.T) {
	c := New("")
	o := &models.Order{Status: models.StatusPending}

	c.Apply(o, &models.TrackingInfo{Status: "In Transit", EarliestDate: "2025-01-01 10:00:00"})
	require.Equal(t, "In Transit", o.Status)
	require.Equal(t, "2025-01-01 10:00:00", o.OrderDate)

	// Unknown never clobbers a real status; order date is set once.
	c.Apply(o, &models.TrackingInfo{Status: models.StatusUnknown, EarliestDate: "2025-02-02 10:00:00"})
	require.Equal(t, "In Transit", o.Status)
	require.Equal(t, "2025-01-01 10:00:00", o.OrderDate)
}
