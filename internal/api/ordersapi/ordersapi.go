package ordersapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parceldesk/parceldesk/internal/integrations/carrier"
	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/parceldesk/parceldesk/internal/services/sync"
	"github.com/parceldesk/parceldesk/internal/storage"
	"github.com/pkg/errors"
)

const addedDateLayout = "2006-01-02 15:04:05"

type Store interface {
	List(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id int) (models.Order, error)
	Add(ctx context.Context, o models.Order) error
	Update(ctx context.Context, id int, fn func(*models.Order) error) error
	Delete(ctx context.Context, id int) error
	NextID(ctx context.Context) (int, error)
	Save(ctx context.Context) error
}

type Settings interface {
	DoarAPIKey() string
	SetDoarAPIKey(key string)
	AutoUpdateIntervalHours() int
	SetAutoUpdateIntervalHours(hours int)
	CainiaoLastUpdate() *time.Time
	DoarLastUpdate() *time.Time
}

// Scheduler is the auto-update timer surface the config routes need.
type Scheduler interface {
	Reschedule()
	NextUpdateTime() *time.Time
}

// SingleFetcher is the bulk carrier's one-number lookup, used when an order
// is created or its tracking number changes.
type SingleFetcher interface {
	FetchOne(ctx context.Context, trackingNumber string) *models.TrackingInfo
}

type OrdersAPI struct {
	store     Store
	settings  Settings
	svc       *sync.Service
	scheduler Scheduler
	cainiao   SingleFetcher
}

func New(store Store, st Settings, svc *sync.Service, sched Scheduler, cainiao SingleFetcher) *OrdersAPI {
	return &OrdersAPI{store: store, settings: st, svc: svc, scheduler: sched, cainiao: cainiao}
}

// Routes mounts the REST surface onto r.
func (a *OrdersAPI) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/orders", a.listOrders)
		r.Post("/orders", a.addOrder)
		r.Post("/orders/refresh-all", a.refreshAll)
		r.Post("/orders/refresh-all-doar", a.refreshAllDoar)
		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", a.getOrder)
			r.Put("/", a.updateOrder)
			r.Delete("/", a.deleteOrder)
			r.Get("/tracking", a.getTracking)
			r.Post("/tracking", a.refreshTracking)
			r.Post("/doar-tracking", a.refreshDoarTracking)
		})
		r.Get("/config/doar-api-key", a.getDoarAPIKey)
		r.Post("/config/doar-api-key", a.setDoarAPIKey)
		r.Get("/config/auto-update", a.getAutoUpdate)
		r.Post("/config/auto-update", a.setAutoUpdate)
	})
}

func (a *OrdersAPI) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type orderRequest struct {
	ProductTitle   *string          `json:"product_title"`
	ProductImage   *string          `json:"product_image"`
	ProductURL     *string          `json:"product_url"`
	ProductID      *string          `json:"product_id"`
	TrackingNumber *string          `json:"tracking_number"`
	Status         *string          `json:"status"`
	OrderDate      *string          `json:"order_date"`
	OrderID        *string          `json:"order_id"`
	Price          *string          `json:"price"`
	SubItems       []models.SubItem `json:"sub_items"`
}

func (a *OrdersAPI) addOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := a.store.NextID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	o := models.Order{
		ID:        id,
		Status:    models.StatusPending,
		AddedDate: time.Now().Format(addedDateLayout),
		SubItems:  req.SubItems,
	}
	applyFields(&o, req)

	// A new order with a tracking number gets its first payload right away,
	// so the list view is populated without waiting for the next cycle.
	if tn := strings.TrimSpace(o.TrackingNumber); tn != "" {
		if info := a.cainiao.FetchOne(r.Context(), tn); info != nil && info.Error == "" {
			o.TrackingInfo = info
			carrier.ApplyTrackingFields(&o, info)
			o.OrderDate = info.EarliestDate
		}
	}
	if req.OrderDate != nil && *req.OrderDate != "" {
		o.OrderDate = *req.OrderDate
	}

	if err := a.store.Add(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.save(r.Context())
	writeJSON(w, http.StatusCreated, o)
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *OrdersAPI) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trackingChanged := false
	err := a.store.Update(r.Context(), id, func(o *models.Order) error {
		oldTN := strings.TrimSpace(o.TrackingNumber)
		applyFields(o, req)
		if req.TrackingNumber != nil && strings.TrimSpace(*req.TrackingNumber) != oldTN {
			trackingChanged = true
			// Stale payloads belong to the old number.
			o.TrackingInfo = nil
			o.DoarTrackingInfo = nil
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if trackingChanged {
		o, err := a.store.Get(r.Context(), id)
		if err == nil {
			if tn := strings.TrimSpace(o.TrackingNumber); tn != "" {
				if info := a.cainiao.FetchOne(r.Context(), tn); info != nil && info.Error == "" {
					_ = a.store.Update(r.Context(), id, func(o *models.Order) error {
						o.TrackingInfo = info
						carrier.ApplyTrackingFields(o, info)
						return nil
					})
				}
			}
		}
	}

	a.save(r.Context())
	o, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *OrdersAPI) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := a.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	a.save(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *OrdersAPI) getTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if o.TrackingInfo == nil {
		writeError(w, http.StatusNotFound, "No tracking information available")
		return
	}
	writeJSON(w, http.StatusOK, o.TrackingInfo)
}

func (a *OrdersAPI) refreshTracking(w http.ResponseWriter, r *http.Request) {
	a.refreshOne(w, r, a.svc.Cainiao())
}

func (a *OrdersAPI) refreshDoarTracking(w http.ResponseWriter, r *http.Request) {
	a.refreshOne(w, r, a.svc.Doar())
}

func (a *OrdersAPI) refreshOne(w http.ResponseWriter, r *http.Request, ad carrier.Adapter) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, info, err := a.svc.RefreshOrder(r.Context(), ad, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, sync.ErrNoTrackingNumber):
		writeError(w, http.StatusBadRequest, "No tracking number available")
	case errors.Is(err, sync.ErrFetchFailed):
		writeError(w, http.StatusInternalServerError, "Failed to fetch tracking information")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case info.Error != "":
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       false,
			"error":         info.Error,
			"tracking_info": info,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"order":         o,
			"tracking_info": info,
		})
	}
}

func (a *OrdersAPI) refreshAll(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.RefreshAll(r.Context(), a.svc.Cainiao())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *OrdersAPI) refreshAllDoar(w http.ResponseWriter, r *http.Request) {
	if a.settings.DoarAPIKey() == "" {
		writeError(w, http.StatusBadRequest, "Doar Israel API key not configured")
		return
	}
	sum, err := a.svc.RefreshAll(r.Context(), a.svc.Doar())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *OrdersAPI) getDoarAPIKey(w http.ResponseWriter, r *http.Request) {
	key := a.settings.DoarAPIKey()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": key != "",
		"masked_key": maskKey(key),
	})
}

func (a *OrdersAPI) setDoarAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.settings.SetDoarAPIKey(strings.TrimSpace(req.APIKey))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *OrdersAPI) getAutoUpdate(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"interval_hours":      a.settings.AutoUpdateIntervalHours(),
		"next_update_time":    stampString(a.nextUpdateTime()),
		"cainiao_last_update": stampString(a.settings.CainiaoLastUpdate()),
		"doar_last_update":    stampString(a.settings.DoarLastUpdate()),
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *OrdersAPI) setAutoUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalHours int `json:"interval_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IntervalHours < 1 {
		writeError(w, http.StatusBadRequest, "interval_hours must be at least 1")
		return
	}
	a.settings.SetAutoUpdateIntervalHours(req.IntervalHours)
	if a.scheduler != nil {
		a.scheduler.Reschedule()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"interval_hours":   req.IntervalHours,
		"next_update_time": stampString(a.nextUpdateTime()),
	})
}

func (a *OrdersAPI) nextUpdateTime() *time.Time {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.NextUpdateTime()
}

func (a *OrdersAPI) save(ctx context.Context) {
	if err := a.store.Save(ctx); err != nil {
		slog.Error("save orders", "error", err.Error())
	}
}

func applyFields(o *models.Order, req orderRequest) {
	if req.ProductTitle != nil {
		o.ProductTitle = *req.ProductTitle
	}
	if req.ProductImage != nil {
		o.ProductImage = *req.ProductImage
	}
	if req.ProductURL != nil {
		o.ProductURL = *req.ProductURL
	}
	if req.ProductID != nil {
		o.ProductID = *req.ProductID
	}
	if req.TrackingNumber != nil {
		o.TrackingNumber = strings.TrimSpace(*req.TrackingNumber)
	}
	if req.Status != nil && *req.Status != "" {
		o.Status = *req.Status
	}
	if req.OrderDate != nil {
		o.OrderDate = *req.OrderDate
	}
	if req.OrderID != nil {
		o.OrderID = *req.OrderID
	}
	if req.Price != nil {
		o.Price = *req.Price
	}
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func stampString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func orderID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
