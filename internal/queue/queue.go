// Package queue manages the durable record of mutations that must
// eventually reach the platform API, decoupling local writes from network
// availability.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ispkit/fieldsync/internal/storage"
)

// QueueStore abstracts the sync queue table operations.
type QueueStore interface {
	EnqueueMutation(e storage.QueueEntry) (int64, error)
	ListMutations(tenantID string) ([]storage.QueueEntry, error)
	DeleteMutation(id int64) error
	MarkMutationFailed(id int64, errMsg string) error
	ClearQueue(tenantID string) error
	CountMutations(tenantID string) (int, error)
}

// ReplayFunc performs the network operation for a single queued mutation.
type ReplayFunc func(ctx context.Context, e storage.QueueEntry) error

// Queue is a priority-ordered durable queue for a single tenant.
type Queue struct {
	store    QueueStore
	tenantID string
	logger   *slog.Logger
}

// New creates a Queue scoped to the given tenant.
func New(store QueueStore, tenantID string) *Queue {
	return &Queue{
		store:    store,
		tenantID: tenantID,
		logger:   slog.Default(),
	}
}

// Enqueue appends a mutation. Priority runs 1 (lowest) to 10 (highest);
// entries are not deduplicated.
func (q *Queue) Enqueue(payloadJSON, operationType string, priority int) (int64, error) {
	id, err := q.store.EnqueueMutation(storage.QueueEntry{
		TenantID:      q.tenantID,
		OperationType: operationType,
		PayloadJSON:   payloadJSON,
		Priority:      priority,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueuing %s mutation: %w", operationType, err)
	}
	return id, nil
}

// Drain replays queued mutations highest-priority-first, one at a time.
// A successful replay removes the entry. A failed replay leaves the entry
// in place for the next drain cycle and does not block the rest of the
// queue. Returns the number of entries still queued and the first replay
// error encountered, if any.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (remaining int, err error) {
	entries, err := q.store.ListMutations(q.tenantID)
	if err != nil {
		return 0, fmt.Errorf("listing queued mutations: %w", err)
	}

	var firstErr error
	for _, e := range entries {
		if ctx.Err() != nil {
			remaining++
			continue
		}

		if replayErr := replay(ctx, e); replayErr != nil {
			q.logger.Warn("replay failed", "id", e.ID, "op", e.OperationType, "error", replayErr)
			if markErr := q.store.MarkMutationFailed(e.ID, replayErr.Error()); markErr != nil {
				q.logger.Error("failed to record replay failure", "id", e.ID, "error", markErr)
			}
			if firstErr == nil {
				firstErr = replayErr
			}
			remaining++
			continue
		}

		if err := q.store.DeleteMutation(e.ID); err != nil {
			return remaining, fmt.Errorf("removing replayed mutation %d: %w", e.ID, err)
		}
	}

	return remaining, firstErr
}

// Clear removes every queued mutation for the tenant.
func (q *Queue) Clear() error {
	return q.store.ClearQueue(q.tenantID)
}

// Pending returns the number of queued mutations.
func (q *Queue) Pending() (int, error) {
	return q.store.CountMutations(q.tenantID)
}

// List returns the queued mutations in replay order.
func (q *Queue) List() ([]storage.QueueEntry, error) {
	return q.store.ListMutations(q.tenantID)
}
