package workorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ispkit/fieldsync/internal/storage"
)

// SyncWithServer drains the sync queue against the platform API, fetches
// the authoritative work order list, and replaces the local table for this
// tenant+technician scope with the server's response (last-writer-wins
// reconciliation). The queue is cleared only after a confirmed successful
// fetch; a failed fetch leaves local state and the queue untouched.
//
// The cycle is single-flight: a call arriving while a sync is in progress
// is dropped, not queued.
func (m *Manager) SyncWithServer(ctx context.Context) error {
	m.mu.Lock()
	if m.syncState == SyncSyncing {
		m.mu.Unlock()
		return nil
	}
	m.syncState = SyncSyncing
	m.mu.Unlock()

	err := m.syncCycle(ctx)

	m.mu.Lock()
	if err != nil {
		m.syncState = SyncError
		m.lastError = err.Error()
	} else {
		m.syncState = SyncIdle
		m.lastError = ""
		m.lastSync = time.Now()
	}
	m.mu.Unlock()

	if err == nil && m.opts.AfterSync != nil {
		m.opts.AfterSync(ctx)
	}
	return err
}

func (m *Manager) syncCycle(ctx context.Context) error {
	// Replay failures don't abort the cycle; the authoritative fetch below
	// supersedes anything still queued.
	if _, err := m.queue.Drain(ctx, m.replay); err != nil {
		m.logger.Warn("queue drain left entries behind", "error", err)
	}

	orders, err := m.remote.ListWorkOrders(ctx, m.opts.TenantID, m.opts.TechnicianID)
	if err != nil {
		return fmt.Errorf("fetching work orders: %w", err)
	}

	for i := range orders {
		orders[i].SyncStatus = storage.SyncSynced
	}
	if err := m.store.ReplaceWorkOrders(m.opts.TenantID, m.opts.TechnicianID, orders); err != nil {
		return fmt.Errorf("replacing local work orders: %w", err)
	}

	if err := m.queue.Clear(); err != nil {
		return fmt.Errorf("clearing sync queue: %w", err)
	}

	m.cleanupExpired()

	m.logger.Info("sync complete", "orders", len(orders))
	return nil
}

// cleanupExpired removes completed and cancelled work orders past the
// retention age. Failures are logged, not propagated; retention never
// fails a sync.
func (m *Manager) cleanupExpired() {
	if m.opts.RetentionAge <= 0 {
		return
	}
	statuses := []string{storage.StatusCompleted, storage.StatusCancelled}
	n, err := m.store.CleanupOlderThan(m.opts.TenantID, m.opts.RetentionAge, statuses)
	if err != nil {
		m.logger.Warn("retention cleanup failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("retention cleanup removed work orders", "count", n)
	}
}

// replay performs the network operation for one queued mutation.
func (m *Manager) replay(ctx context.Context, e storage.QueueEntry) error {
	switch e.OperationType {
	case storage.OpCreate:
		var p createPayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing create payload: %w", err)
		}
		wo, err := m.store.GetWorkOrder(p.ID, m.opts.TenantID)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted locally before it ever reached the server; nothing to push.
			return nil
		}
		if err != nil {
			return err
		}
		return m.remote.CreateWorkOrder(ctx, wo)

	case storage.OpUpdate:
		var p updatePayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing update payload: %w", err)
		}
		return m.remote.UpdateWorkOrder(ctx, m.opts.TenantID, p.ID, p.Changes)

	case storage.OpComplete:
		var p completePayload
		if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing complete payload: %w", err)
		}
		return m.remote.CompleteWorkOrder(ctx, m.opts.TenantID, p.ID)
	}

	return fmt.Errorf("unknown operation type %q", e.OperationType)
}

// Status describes the current sync cycle state.
type Status struct {
	State        string    `json:"state"` // "idle", "syncing", "error"
	LastSync     time.Time `json:"last_sync"`
	LastError    string    `json:"last_error,omitempty"`
	PendingCount int       `json:"pending_count"`
}

// SyncStatus returns the current sync state, last successful sync time,
// and the number of queued mutations.
func (m *Manager) SyncStatus() Status {
	m.mu.Lock()
	st := Status{State: m.syncState, LastSync: m.lastSync, LastError: m.lastError}
	m.mu.Unlock()

	pending, err := m.queue.Pending()
	if err != nil {
		m.logger.Warn("counting pending mutations failed", "error", err)
	}
	st.PendingCount = pending
	return st
}

// Run syncs once immediately and then on the configured interval until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if err := m.SyncWithServer(ctx); err != nil {
		m.logger.Warn("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(m.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SyncWithServer(ctx); err != nil {
				m.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}
