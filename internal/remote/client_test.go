package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ispkit/fieldsync/internal/storage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "test-token")
	c.httpClient = srv.Client()
	return c
}

// TestListWorkOrders decodes the data envelope and maps wire fields onto
// local records marked synced.
func TestListWorkOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if got := r.URL.Query().Get("tenant_id"); got != "t1" {
			t.Errorf("tenant_id = %q, want %q", got, "t1")
		}
		if got := r.URL.Query().Get("technician_id"); got != "tech-1" {
			t.Errorf("technician_id = %q, want %q", got, "tech-1")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{
			"id":"wo-1","tenant_id":"t1","technician_id":"tech-1",
			"title":"Install ONT","status":"pending","priority":"high",
			"scheduled_date":"2026-03-02T10:00:00Z","progress":0,
			"timeline":[{"description":"created"}]
		}]}`))
	})

	orders, err := c.ListWorkOrders(context.Background(), "t1", "tech-1")
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}

	wo := orders[0]
	if wo.ID != "wo-1" {
		t.Errorf("ID = %q, want %q", wo.ID, "wo-1")
	}
	if wo.SyncStatus != storage.SyncSynced {
		t.Errorf("SyncStatus = %q, want %q", wo.SyncStatus, storage.SyncSynced)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !wo.ScheduledDate.Equal(want) {
		t.Errorf("ScheduledDate = %v, want %v", wo.ScheduledDate, want)
	}
	if !strings.Contains(wo.TimelineJSON, "created") {
		t.Errorf("TimelineJSON = %q, want timeline carried over", wo.TimelineJSON)
	}
}

// TestListWorkOrdersEmptyTimeline defaults a missing timeline to "[]".
func TestListWorkOrdersEmptyTimeline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"wo-2","tenant_id":"t1","title":"x","status":"pending","priority":"low"}]}`))
	})

	orders, err := c.ListWorkOrders(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if orders[0].TimelineJSON != "[]" {
		t.Errorf("TimelineJSON = %q, want %q", orders[0].TimelineJSON, "[]")
	}
}

// TestCreateWorkOrder posts the wire representation.
func TestCreateWorkOrder(t *testing.T) {
	var got workOrderWire
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/work-orders" {
			t.Errorf("request = %s %s, want POST /api/v1/work-orders", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	wo := storage.WorkOrder{
		ID:           "wo-new",
		TenantID:     "t1",
		Title:        "Swap modem",
		Status:       storage.StatusPending,
		Priority:     "medium",
		TimelineJSON: `[{"description":"work order created"}]`,
	}
	if err := c.CreateWorkOrder(context.Background(), wo); err != nil {
		t.Fatalf("CreateWorkOrder: %v", err)
	}

	if got.ID != "wo-new" || got.Title != "Swap modem" {
		t.Errorf("wire = %+v, want id/title carried over", got)
	}
	if len(got.Timeline) == 0 {
		t.Error("wire timeline missing")
	}
}

// TestUpdateWorkOrder patches with a tenant-scoped change set.
func TestUpdateWorkOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v1/work-orders/wo-1" {
			t.Errorf("request = %s %s, want PATCH /api/v1/work-orders/wo-1", r.Method, r.URL.Path)
		}
		var body struct {
			TenantID string         `json:"tenant_id"`
			Changes  map[string]any `json:"changes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body.TenantID != "t1" {
			t.Errorf("tenant_id = %q, want %q", body.TenantID, "t1")
		}
		if body.Changes["progress"] != float64(50) {
			t.Errorf("changes = %v, want progress 50", body.Changes)
		}
	})

	err := c.UpdateWorkOrder(context.Background(), "t1", "wo-1", map[string]any{"progress": 50})
	if err != nil {
		t.Fatalf("UpdateWorkOrder: %v", err)
	}
}

// TestCompleteWorkOrder posts to the completion endpoint.
func TestCompleteWorkOrder(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
	})

	if err := c.CompleteWorkOrder(context.Background(), "t1", "wo-9"); err != nil {
		t.Fatalf("CompleteWorkOrder: %v", err)
	}
	if path != "POST /api/v1/work-orders/wo-9/complete" {
		t.Errorf("request = %q, want POST complete endpoint", path)
	}
}

// TestErrorStatusIncludesBody surfaces the response body in the error.
func TestErrorStatusIncludesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"tenant suspended"}`, http.StatusForbidden)
	})

	_, err := c.ListWorkOrders(context.Background(), "t1", "")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "tenant suspended") {
		t.Errorf("error = %v, want status and body included", err)
	}
}
