// Package api exposes the work order manager and cache to the portal UI
// over a local HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ispkit/fieldsync/internal/cache"
	"github.com/ispkit/fieldsync/internal/storage"
	"github.com/ispkit/fieldsync/internal/workorder"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries the handler dependencies.
type Deps struct {
	Manager  *workorder.Manager
	Cache    *cache.Manager
	TenantID string
	Token    string
}

// NewHandler builds the local API router. /health is unauthenticated so
// the CLI can probe liveness; everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/work-orders", handleListWorkOrders(deps))
		r.Post("/work-orders", handleCreateWorkOrder(deps))
		r.Get("/work-orders/{id}", handleGetWorkOrder(deps))
		r.Patch("/work-orders/{id}", handleUpdateWorkOrder(deps))
		r.Delete("/work-orders/{id}", handleDeleteWorkOrder(deps))
		r.Post("/work-orders/{id}/status", handleUpdateStatus(deps))
		r.Post("/work-orders/{id}/complete", handleCompleteWorkOrder(deps))
		r.Get("/metrics", handleMetrics(deps))
		r.Post("/sync", handleSync(deps))
		r.Get("/sync/status", handleSyncStatus(deps))
		r.Post("/cache/purge", handleCachePurge(deps))
	})

	return r
}

// workOrderJSON is the API representation of a work order.
type workOrderJSON struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	TechnicianID  string          `json:"technician_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Address       string          `json:"address,omitempty"`
	Status        string          `json:"status"`
	Priority      string          `json:"priority"`
	ScheduledDate string          `json:"scheduled_date,omitempty"`
	CompletedAt   string          `json:"completed_at,omitempty"`
	Progress      int             `json:"progress"`
	Timeline      json.RawMessage `json:"timeline"`
	SyncStatus    string          `json:"sync_status"`
	CreatedAt     string          `json:"created_at,omitempty"`
	LastModified  string          `json:"last_modified,omitempty"`
}

func toJSON(wo storage.WorkOrder) workOrderJSON {
	timeline := wo.TimelineJSON
	if timeline == "" {
		timeline = "[]"
	}
	j := workOrderJSON{
		ID:           wo.ID,
		TenantID:     wo.TenantID,
		TechnicianID: wo.TechnicianID,
		Title:        wo.Title,
		Description:  wo.Description,
		CustomerName: wo.CustomerName,
		Address:      wo.Address,
		Status:       wo.Status,
		Priority:     wo.Priority,
		Progress:     wo.Progress,
		Timeline:     json.RawMessage(timeline),
		SyncStatus:   wo.SyncStatus,
	}
	if !wo.ScheduledDate.IsZero() {
		j.ScheduledDate = wo.ScheduledDate.UTC().Format(time.RFC3339)
	}
	if !wo.CompletedAt.IsZero() {
		j.CompletedAt = wo.CompletedAt.UTC().Format(time.RFC3339)
	}
	if !wo.CreatedAt.IsZero() {
		j.CreatedAt = wo.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !wo.LastModified.IsZero() {
		j.LastModified = wo.LastModified.UTC().Format(time.RFC3339)
	}
	return j
}

func writeWorkOrders(w http.ResponseWriter, orders []storage.WorkOrder) {
	out := make([]workOrderJSON, 0, len(orders))
	for _, wo := range orders {
		out = append(out, toJSON(wo))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func handleListWorkOrders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "" {
			writeWorkOrders(w, deps.Manager.Search(q))
			return
		}
		if status := r.URL.Query().Get("status"); status != "" {
			writeWorkOrders(w, deps.Manager.Filter(status))
			return
		}
		writeWorkOrders(w, deps.Manager.List())
	}
}

type createRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	CustomerName  string `json:"customer_name"`
	Address       string `json:"address"`
	Priority      string `json:"priority"`
	ScheduledDate string `json:"scheduled_date"`
}

func handleCreateWorkOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		wo := storage.WorkOrder{
			Title:        req.Title,
			Description:  req.Description,
			CustomerName: req.CustomerName,
			Address:      req.Address,
			Priority:     req.Priority,
		}
		if req.ScheduledDate != "" {
			t, err := parseAPITime(req.ScheduledDate)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid scheduled_date: %v", err)
				return
			}
			wo.ScheduledDate = t
		}

		created, err := deps.Manager.Create(r.Context(), wo)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "creating work order: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toJSON(created))
	}
}

func handleGetWorkOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wo, err := deps.Manager.Get(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "work order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading work order: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJSON(wo))
	}
}

func handleUpdateWorkOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var changes map[string]any
		if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		wo, err := deps.Manager.Update(r.Context(), chi.URLParam(r, "id"), changes)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "work order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "updating work order: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJSON(wo))
	}
}

func handleDeleteWorkOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Manager.Delete(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "work order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting work order: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleUpdateStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Status == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status is required")
			return
		}

		wo, err := deps.Manager.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "work order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "updating status: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJSON(wo))
	}
}

func handleCompleteWorkOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wo, err := deps.Manager.Complete(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "work order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "completing work order: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJSON(wo))
	}
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := deps.Manager.Metrics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing metrics: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metrics)
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Manager.SyncWithServer(r.Context()); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "sync failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Manager.SyncStatus())
	}
}

func handleSyncStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Manager.SyncStatus())
	}
}

func handleCachePurge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.ClearTenantData(deps.TenantID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "purging cache: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "purged"})
	}
}

func parseAPITime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
