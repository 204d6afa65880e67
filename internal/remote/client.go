// Package remote implements the HTTP client for the central ISP platform
// API, the authority the local store is reconciled against.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ispkit/fieldsync/internal/storage"
)

// Client communicates with the platform API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client targeting the given platform base URL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// workOrderWire mirrors the platform API's work order representation.
type workOrderWire struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	TechnicianID  string          `json:"technician_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	CustomerName  string          `json:"customer_name"`
	Address       string          `json:"address"`
	Status        string          `json:"status"`
	Priority      string          `json:"priority"`
	ScheduledDate string          `json:"scheduled_date,omitempty"`
	CompletedAt   string          `json:"completed_at,omitempty"`
	Progress      int             `json:"progress"`
	Timeline      json.RawMessage `json:"timeline,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	LastModified  string          `json:"last_modified,omitempty"`
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func wireTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (w workOrderWire) toRecord() (storage.WorkOrder, error) {
	wo := storage.WorkOrder{
		ID:           w.ID,
		TenantID:     w.TenantID,
		TechnicianID: w.TechnicianID,
		Title:        w.Title,
		Description:  w.Description,
		CustomerName: w.CustomerName,
		Address:      w.Address,
		Status:       w.Status,
		Priority:     w.Priority,
		Progress:     w.Progress,
		TimelineJSON: "[]",
		SyncStatus:   storage.SyncSynced,
	}
	if len(w.Timeline) > 0 {
		wo.TimelineJSON = string(w.Timeline)
	}
	var err error
	if wo.ScheduledDate, err = parseWireTime(w.ScheduledDate); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("parsing scheduled_date: %w", err)
	}
	if wo.CompletedAt, err = parseWireTime(w.CompletedAt); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	if wo.CreatedAt, err = parseWireTime(w.CreatedAt); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if wo.LastModified, err = parseWireTime(w.LastModified); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("parsing last_modified: %w", err)
	}
	return wo, nil
}

func toWire(wo storage.WorkOrder) workOrderWire {
	w := workOrderWire{
		ID:            wo.ID,
		TenantID:      wo.TenantID,
		TechnicianID:  wo.TechnicianID,
		Title:         wo.Title,
		Description:   wo.Description,
		CustomerName:  wo.CustomerName,
		Address:       wo.Address,
		Status:        wo.Status,
		Priority:      wo.Priority,
		ScheduledDate: wireTime(wo.ScheduledDate),
		CompletedAt:   wireTime(wo.CompletedAt),
		Progress:      wo.Progress,
		CreatedAt:     wireTime(wo.CreatedAt),
		LastModified:  wireTime(wo.LastModified),
	}
	if wo.TimelineJSON != "" {
		w.Timeline = json.RawMessage(wo.TimelineJSON)
	}
	return w
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform API not reachable: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("platform API returned %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("platform API returned %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

// ListWorkOrders fetches the authoritative work order list for a tenant,
// optionally scoped to one technician.
func (c *Client) ListWorkOrders(ctx context.Context, tenantID, technicianID string) ([]storage.WorkOrder, error) {
	path := "/api/v1/work-orders?tenant_id=" + tenantID
	if technicianID != "" {
		path += "&technician_id=" + technicianID
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Data []workOrderWire `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding work order list: %w", err)
	}

	orders := make([]storage.WorkOrder, 0, len(envelope.Data))
	for _, w := range envelope.Data {
		wo, err := w.toRecord()
		if err != nil {
			return nil, err
		}
		orders = append(orders, wo)
	}
	return orders, nil
}

// CreateWorkOrder pushes a locally created work order to the platform.
func (c *Client) CreateWorkOrder(ctx context.Context, wo storage.WorkOrder) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/work-orders", toWire(wo))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UpdateWorkOrder pushes a partial update for a work order.
func (c *Client) UpdateWorkOrder(ctx context.Context, tenantID, id string, changes map[string]any) error {
	body := map[string]any{"tenant_id": tenantID, "changes": changes}
	resp, err := c.do(ctx, http.MethodPatch, "/api/v1/work-orders/"+id, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CompleteWorkOrder marks a work order completed on the platform.
func (c *Client) CompleteWorkOrder(ctx context.Context, tenantID, id string) error {
	body := map[string]any{"tenant_id": tenantID}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/work-orders/"+id+"/complete", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
