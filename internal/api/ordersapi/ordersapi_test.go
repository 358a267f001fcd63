package ordersapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/parceldesk/parceldesk/internal/services/sync"
	"github.com/parceldesk/parceldesk/internal/settings"
	"github.com/parceldesk/parceldesk/internal/storage/jsonstore"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name    string
	results map[string]*models.TrackingInfo
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, trackingNumbers []string) map[string]*models.TrackingInfo {
	if a.results == nil {
		return map[string]*models.TrackingInfo{}
	}
	return a.results
}

func (a *fakeAdapter) Skip(o *models.Order) bool { return false }

func (a *fakeAdapter) Apply(o *models.Order, info *models.TrackingInfo) {
	o.TrackingInfo = info
	if info.Status != "" && info.Status != models.StatusUnknown {
		o.Status = info.Status
	}
}

type fakeFetcher struct {
	info  *models.TrackingInfo
	calls int
}

func (f *fakeFetcher) FetchOne(ctx context.Context, trackingNumber string) *models.TrackingInfo {
	f.calls++
	return f.info
}

type fakeScheduler struct {
	rescheduled int
	next        *time.Time
}

func (s *fakeScheduler) Reschedule() { s.rescheduled++ }

func (s *fakeScheduler) NextUpdateTime() *time.Time { return s.next }

type testAPI struct {
	router   http.Handler
	store    *jsonstore.Store
	settings *settings.Settings
	cainiao  *fakeAdapter
	doar     *fakeAdapter
	fetcher  *fakeFetcher
	sched    *fakeScheduler
}

func newTestAPI(t *testing.T, orders ...models.Order) *testAPI {
	t.Helper()
	dir := t.TempDir()

	st, err := jsonstore.Open(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)
	for _, o := range orders {
		require.NoError(t, st.Add(context.Background(), o))
	}

	set, err := settings.Load(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	ta := &testAPI{
		store:    st,
		settings: set,
		cainiao:  &fakeAdapter{name: "cainiao"},
		doar:     &fakeAdapter{name: "doar"},
		fetcher:  &fakeFetcher{},
		sched:    &fakeScheduler{},
	}
	svc := sync.New(st, set, ta.cainiao, ta.doar)
	api := New(st, set, svc, ta.sched, ta.fetcher)

	r := chi.NewRouter()
	api.Routes(r)
	ta.router = r
	return ta
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestListOrders(t *testing.T) {
	ta := newTestAPI(t,
		models.Order{ID: 1, TrackingNumber: "A"},
		models.Order{ID: 2, TrackingNumber: "B"},
	)

	w := ta.do(t, http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]models.Order](t, w), 2)
}

func TestAddOrder_FetchesInitialTracking(t *testing.T) {
	ta := newTestAPI(t)
	ta.fetcher.info = &models.TrackingInfo{
		Status:       "In Transit",
		EarliestDate: "2025-02-01 09:00:00",
	}

	w := ta.do(t, http.MethodPost, "/api/orders", map[string]any{
		"product_title":   "Widget",
		"tracking_number": "LP00112233445566",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	o := decode[models.Order](t, w)
	require.Equal(t, 1, o.ID)
	require.Equal(t, "In Transit", o.Status)
	require.Equal(t, "2025-02-01 09:00:00", o.OrderDate)
	require.NotNil(t, o.TrackingInfo)
	require.Equal(t, 1, ta.fetcher.calls)
	require.NotEmpty(t, o.AddedDate)
}

func TestAddOrder_WithoutTrackingNumberSkipsFetch(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodPost, "/api/orders", map[string]any{"product_title": "Widget"})
	require.Equal(t, http.StatusCreated, w.Code)

	o := decode[models.Order](t, w)
	require.Equal(t, models.StatusPending, o.Status)
	require.Nil(t, o.TrackingInfo)
	require.Zero(t, ta.fetcher.calls)
}

func TestGetOrder_NotFound(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodGet, "/api/orders/99", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ta.do(t, http.MethodGet, "/api/orders/nope", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateOrder_TrackingNumberChangeRefetches(t *testing.T) {
	ta := newTestAPI(t, models.Order{
		ID:               1,
		TrackingNumber:   "OLD",
		TrackingInfo:     &models.TrackingInfo{Status: "Old"},
		DoarTrackingInfo: &models.TrackingInfo{Status: "Old"},
	})
	ta.fetcher.info = &models.TrackingInfo{Status: "Fresh"}

	w := ta.do(t, http.MethodPut, "/api/orders/1", map[string]any{"tracking_number": "NEW"})
	require.Equal(t, http.StatusOK, w.Code)

	o := decode[models.Order](t, w)
	require.Equal(t, "NEW", o.TrackingNumber)
	require.Equal(t, 1, ta.fetcher.calls)
	require.NotNil(t, o.TrackingInfo)
	require.Equal(t, "Fresh", o.TrackingInfo.Status)
	require.Nil(t, o.DoarTrackingInfo)
}

func TestUpdateOrder_OtherFieldsKeepTracking(t *testing.T) {
	ta := newTestAPI(t, models.Order{
		ID:             1,
		TrackingNumber: "A",
		TrackingInfo:   &models.TrackingInfo{Status: "In Transit"},
	})

	w := ta.do(t, http.MethodPut, "/api/orders/1", map[string]any{"product_title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	o := decode[models.Order](t, w)
	require.Equal(t, "Renamed", o.ProductTitle)
	require.NotNil(t, o.TrackingInfo)
	require.Zero(t, ta.fetcher.calls)
}

func TestDeleteOrder(t *testing.T) {
	ta := newTestAPI(t, models.Order{ID: 1})

	w := ta.do(t, http.MethodDelete, "/api/orders/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ta.do(t, http.MethodDelete, "/api/orders/1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTracking(t *testing.T) {
	ta := newTestAPI(t,
		models.Order{ID: 1, TrackingInfo: &models.TrackingInfo{Status: "In Transit"}},
		models.Order{ID: 2},
	)

	w := ta.do(t, http.MethodGet, "/api/orders/1/tracking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "In Transit", decode[models.TrackingInfo](t, w).Status)

	w = ta.do(t, http.MethodGet, "/api/orders/2/tracking", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshTracking(t *testing.T) {
	ta := newTestAPI(t, models.Order{ID: 1, TrackingNumber: "A"})
	ta.cainiao.results = map[string]*models.TrackingInfo{"A": {Status: "Arrived"}}

	w := ta.do(t, http.MethodPost, "/api/orders/1/tracking", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	require.Equal(t, true, resp["success"])

	o, err := ta.store.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Arrived", o.Status)
}

func TestRefreshTracking_Failures(t *testing.T) {
	ta := newTestAPI(t,
		models.Order{ID: 1, TrackingNumber: "A"},
		models.Order{ID: 2},
	)

	// Carrier produced nothing at all.
	w := ta.do(t, http.MethodPost, "/api/orders/1/tracking", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// No tracking number on the order.
	w = ta.do(t, http.MethodPost, "/api/orders/2/tracking", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Failure placeholder: HTTP 200 with success=false, order untouched.
	ta.cainiao.results = map[string]*models.TrackingInfo{
		"A": {Status: models.StatusError, Error: "Connection error"},
	}
	w = ta.do(t, http.MethodPost, "/api/orders/1/tracking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	require.Equal(t, false, resp["success"])
	require.Equal(t, "Connection error", resp["error"])

	o, err := ta.store.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, o.TrackingInfo)
}

func TestRefreshDoarTracking(t *testing.T) {
	ta := newTestAPI(t, models.Order{ID: 1, TrackingNumber: "RR123IL"})
	ta.doar.results = map[string]*models.TrackingInfo{"RR123IL": {Status: "נמסר"}}

	w := ta.do(t, http.MethodPost, "/api/orders/1/doar-tracking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	require.Equal(t, true, resp["success"])
}

func TestRefreshAll(t *testing.T) {
	ta := newTestAPI(t,
		models.Order{ID: 1, TrackingNumber: "A"},
		models.Order{ID: 2, TrackingNumber: "B"},
	)
	ta.cainiao.results = map[string]*models.TrackingInfo{
		"A": {Status: "In Transit"},
		"B": {Status: "Arrived"},
	}

	w := ta.do(t, http.MethodPost, "/api/orders/refresh-all", nil)
	require.Equal(t, http.StatusOK, w.Code)

	sum := decode[sync.Summary](t, w)
	require.Equal(t, 2, sum.Updated)
	require.Equal(t, "Updated 2 out of 2 orders", sum.Message)
}

func TestRefreshAllDoar_RequiresKey(t *testing.T) {
	ta := newTestAPI(t, models.Order{ID: 1, TrackingNumber: "RR123IL"})

	w := ta.do(t, http.MethodPost, "/api/orders/refresh-all-doar", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	ta.settings.SetDoarAPIKey("key")
	ta.doar.results = map[string]*models.TrackingInfo{"RR123IL": {Status: "נמסר"}}
	w = ta.do(t, http.MethodPost, "/api/orders/refresh-all-doar", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDoarAPIKeyConfig(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodGet, "/api/config/doar-api-key", nil)
	resp := decode[map[string]any](t, w)
	require.Equal(t, false, resp["configured"])

	w = ta.do(t, http.MethodPost, "/api/config/doar-api-key", map[string]any{"api_key": "supersecret99"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ta.do(t, http.MethodGet, "/api/config/doar-api-key", nil)
	resp = decode[map[string]any](t, w)
	require.Equal(t, true, resp["configured"])
	require.Equal(t, "*********et99", resp["masked_key"])
}

func TestAutoUpdateConfig(t *testing.T) {
	ta := newTestAPI(t)
	next := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	ta.sched.next = &next

	w := ta.do(t, http.MethodGet, "/api/config/auto-update", nil)
	resp := decode[map[string]any](t, w)
	require.Equal(t, float64(settings.DefaultAutoUpdateIntervalHours), resp["interval_hours"])
	require.Equal(t, "2025-06-01T18:00:00Z", resp["next_update_time"])

	w = ta.do(t, http.MethodPost, "/api/config/auto-update", map[string]any{"interval_hours": 12})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 12, ta.settings.AutoUpdateIntervalHours())
	require.Equal(t, 1, ta.sched.rescheduled)

	w = ta.do(t, http.MethodPost, "/api/config/auto-update", map[string]any{"interval_hours": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
