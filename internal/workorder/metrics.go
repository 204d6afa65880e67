package workorder

import (
	"time"

	"github.com/ispkit/fieldsync/internal/storage"
)

// Metrics summarizes the technician's work order set. Recomputed on demand
// by a full scan, not incrementally maintained.
type Metrics struct {
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Pending    int            `json:"pending"`
	Overdue    int            `json:"overdue"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}

// Metrics scans the tenant's (technician-scoped) work orders and computes
// counts and per-status/per-priority histograms. A work order is overdue
// when its scheduled date has passed and it is neither completed nor
// cancelled.
func (m *Manager) Metrics() (Metrics, error) {
	orders, err := m.store.ListWorkOrders(m.opts.TenantID, m.opts.TechnicianID)
	if err != nil {
		return Metrics{}, err
	}

	now := time.Now()
	metrics := Metrics{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	for _, wo := range orders {
		metrics.Total++
		metrics.ByStatus[wo.Status]++
		metrics.ByPriority[wo.Priority]++

		switch wo.Status {
		case storage.StatusCompleted:
			metrics.Completed++
		case storage.StatusPending:
			metrics.Pending++
		}

		open := wo.Status != storage.StatusCompleted && wo.Status != storage.StatusCancelled
		if open && !wo.ScheduledDate.IsZero() && wo.ScheduledDate.Before(now) {
			metrics.Overdue++
		}
	}

	return metrics, nil
}
