// Package workorder ties the store, cache, sync queue, and remote client
// into the offline-first work order operations exposed to the UI layer.
package workorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ispkit/fieldsync/internal/queue"
	"github.com/ispkit/fieldsync/internal/storage"
)

// Queue entry priorities. Completions must reach the server ahead of
// routine updates.
const (
	priorityUpdate   = 3
	priorityCreate   = 5
	priorityComplete = 10
)

// Sync cycle states.
const (
	SyncIdle    = "idle"
	SyncSyncing = "syncing"
	SyncError   = "error"
)

// RemoteAPI is the platform API surface the manager replays mutations
// against and fetches authoritative state from.
type RemoteAPI interface {
	ListWorkOrders(ctx context.Context, tenantID, technicianID string) ([]storage.WorkOrder, error)
	CreateWorkOrder(ctx context.Context, wo storage.WorkOrder) error
	UpdateWorkOrder(ctx context.Context, tenantID, id string, changes map[string]any) error
	CompleteWorkOrder(ctx context.Context, tenantID, id string) error
}

// Options configures a Manager.
type Options struct {
	TenantID     string
	TechnicianID string
	Author       string        // recorded on timeline events
	AutoSync     bool          // trigger a background sync after each local mutation
	SyncInterval time.Duration // periodic sync interval; defaults to 30s
	RetentionAge time.Duration // completed/cancelled orders older than this are removed after sync; 0 disables

	// AfterSync, when set, is invoked after each successful sync cycle.
	AfterSync func(ctx context.Context)
}

// Manager implements the offline-first work order contract: local writes
// are applied optimistically, queued, and reconciled with the server.
type Manager struct {
	store  *storage.Store
	queue  *queue.Queue
	remote RemoteAPI
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	syncState string
	lastSync  time.Time
	lastError string
}

// NewManager creates a Manager scoped to one tenant and technician.
func NewManager(store *storage.Store, remote RemoteAPI, opts Options) *Manager {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}
	return &Manager{
		store:     store,
		queue:     queue.New(store, opts.TenantID),
		remote:    remote,
		opts:      opts,
		logger:    slog.Default(),
		syncState: SyncIdle,
	}
}

// Queue exposes the manager's sync queue (used by the status surfaces).
func (m *Manager) Queue() *queue.Queue {
	return m.queue
}

type createPayload struct {
	ID string `json:"id"`
}

type updatePayload struct {
	ID      string         `json:"id"`
	Changes map[string]any `json:"changes"`
}

type completePayload struct {
	ID string `json:"id"`
}

// Create stores a new work order locally with a generated id and
// syncStatus=pending, queues a create mutation, and triggers a background
// sync. A storage write failure means the order was not created.
func (m *Manager) Create(ctx context.Context, wo storage.WorkOrder) (storage.WorkOrder, error) {
	if wo.Title == "" {
		return storage.WorkOrder{}, fmt.Errorf("title is required")
	}

	now := time.Now()
	wo.ID = uuid.New().String()
	wo.TenantID = m.opts.TenantID
	if wo.TechnicianID == "" {
		wo.TechnicianID = m.opts.TechnicianID
	}
	if wo.Status == "" {
		wo.Status = storage.StatusPending
	}
	if wo.Priority == "" {
		wo.Priority = "medium"
	}
	wo.SyncStatus = storage.SyncPending
	wo.CreatedAt = now
	wo.LastModified = now

	timeline, err := appendTimelineEvent("[]", storage.TimelineEvent{
		Timestamp:   now,
		Description: "work order created",
		Author:      m.opts.Author,
	})
	if err != nil {
		return storage.WorkOrder{}, err
	}
	wo.TimelineJSON = timeline

	if err := m.store.SaveWorkOrder(wo); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("saving work order: %w", err)
	}

	if err := m.enqueue(createPayload{ID: wo.ID}, storage.OpCreate, priorityCreate); err != nil {
		return storage.WorkOrder{}, err
	}

	m.triggerSync()
	return wo, nil
}

// Update merges changes into a work order, bumps lastModified, marks it
// pending sync, and queues an update mutation.
func (m *Manager) Update(ctx context.Context, id string, changes map[string]any) (storage.WorkOrder, error) {
	wo, err := m.store.GetWorkOrder(id, m.opts.TenantID)
	if err != nil {
		return storage.WorkOrder{}, err
	}

	if err := applyChanges(&wo, changes); err != nil {
		return storage.WorkOrder{}, err
	}
	wo.LastModified = time.Now()
	wo.SyncStatus = storage.SyncPending

	if err := m.store.SaveWorkOrder(wo); err != nil {
		return storage.WorkOrder{}, fmt.Errorf("saving work order: %w", err)
	}

	if err := m.enqueue(updatePayload{ID: id, Changes: changes}, storage.OpUpdate, priorityUpdate); err != nil {
		return storage.WorkOrder{}, err
	}

	m.triggerSync()
	return wo, nil
}

// UpdateStatus transitions a work order's status, appending a timeline
// event. Transitioning to completed also records completedAt and sets
// progress to 100. Delegates the write to Update.
func (m *Manager) UpdateStatus(ctx context.Context, id, newStatus string) (storage.WorkOrder, error) {
	if !validStatus(newStatus) {
		return storage.WorkOrder{}, fmt.Errorf("invalid status %q", newStatus)
	}

	wo, err := m.store.GetWorkOrder(id, m.opts.TenantID)
	if err != nil {
		return storage.WorkOrder{}, err
	}

	now := time.Now()
	timeline, err := appendTimelineEvent(wo.TimelineJSON, storage.TimelineEvent{
		Timestamp:   now,
		Description: fmt.Sprintf("status changed from %s to %s", wo.Status, newStatus),
		Author:      m.opts.Author,
		Data:        map[string]string{"old": wo.Status, "new": newStatus},
	})
	if err != nil {
		return storage.WorkOrder{}, err
	}

	changes := map[string]any{
		"status":        newStatus,
		"timeline_json": timeline,
	}
	if newStatus == storage.StatusCompleted {
		changes["completed_at"] = now.UTC().Format(time.RFC3339)
		changes["progress"] = 100
	}

	return m.Update(ctx, id, changes)
}

// Complete queues a high-priority complete mutation and then performs the
// local status transition.
func (m *Manager) Complete(ctx context.Context, id string) (storage.WorkOrder, error) {
	if _, err := m.store.GetWorkOrder(id, m.opts.TenantID); err != nil {
		return storage.WorkOrder{}, err
	}

	if err := m.enqueue(completePayload{ID: id}, storage.OpComplete, priorityComplete); err != nil {
		return storage.WorkOrder{}, err
	}

	return m.UpdateStatus(ctx, id, storage.StatusCompleted)
}

// Delete removes a work order locally.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteWorkOrder(id, m.opts.TenantID)
}

// Get returns a single work order.
func (m *Manager) Get(id string) (storage.WorkOrder, error) {
	return m.store.GetWorkOrder(id, m.opts.TenantID)
}

// List returns the technician's work orders. Storage read failures degrade
// to an empty result so the UI can still render.
func (m *Manager) List() []storage.WorkOrder {
	orders, err := m.store.ListWorkOrders(m.opts.TenantID, m.opts.TechnicianID)
	if err != nil {
		m.logger.Warn("listing work orders failed", "error", err)
		return nil
	}
	return orders
}

// Search performs a case-insensitive free-text search.
func (m *Manager) Search(term string) []storage.WorkOrder {
	orders, err := m.store.SearchWorkOrders(m.opts.TenantID, term)
	if err != nil {
		m.logger.Warn("searching work orders failed", "error", err)
		return nil
	}
	return orders
}

// Filter returns work orders matching a status.
func (m *Manager) Filter(status string) []storage.WorkOrder {
	orders, err := m.store.ListWorkOrdersByStatus(m.opts.TenantID, status)
	if err != nil {
		m.logger.Warn("filtering work orders failed", "error", err)
		return nil
	}
	return orders
}

func (m *Manager) enqueue(payload any, op string, priority int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", op, err)
	}
	if _, err := m.queue.Enqueue(string(data), op, priority); err != nil {
		return err
	}
	return nil
}

// triggerSync starts a background sync cycle unless autoSync is disabled.
// Fire-and-forget: the reentrancy guard in SyncWithServer is the only
// coordination.
func (m *Manager) triggerSync() {
	if !m.opts.AutoSync {
		return
	}
	go func() {
		if err := m.SyncWithServer(context.Background()); err != nil {
			m.logger.Warn("background sync failed", "error", err)
		}
	}()
}

func validStatus(s string) bool {
	switch s {
	case storage.StatusPending, storage.StatusInProgress, storage.StatusCompleted, storage.StatusCancelled:
		return true
	}
	return false
}

func appendTimelineEvent(timelineJSON string, event storage.TimelineEvent) (string, error) {
	var events []storage.TimelineEvent
	if timelineJSON != "" {
		if err := json.Unmarshal([]byte(timelineJSON), &events); err != nil {
			return "", fmt.Errorf("parsing timeline: %w", err)
		}
	}
	events = append(events, event)
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshalling timeline: %w", err)
	}
	return string(data), nil
}

// updatable work order fields, keyed by the change-set field name.
var changeAppliers = map[string]func(wo *storage.WorkOrder, v any) error{
	"title":         func(wo *storage.WorkOrder, v any) error { return setString(&wo.Title, "title", v) },
	"description":   func(wo *storage.WorkOrder, v any) error { return setString(&wo.Description, "description", v) },
	"customer_name": func(wo *storage.WorkOrder, v any) error { return setString(&wo.CustomerName, "customer_name", v) },
	"address":       func(wo *storage.WorkOrder, v any) error { return setString(&wo.Address, "address", v) },
	"priority":      func(wo *storage.WorkOrder, v any) error { return setString(&wo.Priority, "priority", v) },
	"timeline_json": func(wo *storage.WorkOrder, v any) error { return setString(&wo.TimelineJSON, "timeline_json", v) },
	"status": func(wo *storage.WorkOrder, v any) error {
		s, ok := v.(string)
		if !ok || !validStatus(s) {
			return fmt.Errorf("invalid status value %v", v)
		}
		wo.Status = s
		return nil
	},
	"progress": func(wo *storage.WorkOrder, v any) error {
		switch p := v.(type) {
		case int:
			wo.Progress = p
		case float64:
			wo.Progress = int(p)
		default:
			return fmt.Errorf("invalid progress value %v", v)
		}
		return nil
	},
	"scheduled_date": func(wo *storage.WorkOrder, v any) error {
		return setTime(&wo.ScheduledDate, "scheduled_date", v)
	},
	"completed_at": func(wo *storage.WorkOrder, v any) error {
		return setTime(&wo.CompletedAt, "completed_at", v)
	},
}

func setString(dst *string, field string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("invalid %s value %v", field, v)
	}
	*dst = s
	return nil
}

func setTime(dst *time.Time, field string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("invalid %s value %v", field, v)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", field, s, err)
	}
	*dst = t
	return nil
}

func applyChanges(wo *storage.WorkOrder, changes map[string]any) error {
	for field, value := range changes {
		apply, ok := changeAppliers[field]
		if !ok {
			return fmt.Errorf("unknown work order field %q", field)
		}
		if err := apply(wo, value); err != nil {
			return err
		}
	}
	return nil
}
