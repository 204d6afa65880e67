package storage

import (
	"fmt"
	"time"
)

// EnqueueMutation appends a pending mutation to the sync queue and returns
// its assigned id. Entries are never deduplicated: multiple updates to the
// same record replay in enqueue order within a priority tier.
func (s *Store) EnqueueMutation(e QueueEntry) (int64, error) {
	if e.Priority < 1 || e.Priority > 10 {
		return 0, fmt.Errorf("priority %d out of range [1,10]", e.Priority)
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO sync_queue (tenant_id, operation_type, payload_json, priority, status, retry_count, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, 'pending', 0, '', ?)`,
		e.TenantID, e.OperationType, e.PayloadJSON, e.Priority, fmtTime(e.EnqueuedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListMutations returns all queue entries for a tenant ordered for replay:
// highest priority first, oldest first within a tier.
func (s *Store) ListMutations(tenantID string) ([]QueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, operation_type, payload_json, priority, status, retry_count, last_error, enqueued_at
		FROM sync_queue WHERE tenant_id = ?
		ORDER BY priority DESC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var enqueued string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OperationType, &e.PayloadJSON,
			&e.Priority, &e.Status, &e.RetryCount, &e.LastError, &enqueued); err != nil {
			return nil, err
		}
		if e.EnqueuedAt, err = parseTime(enqueued); err != nil {
			return nil, fmt.Errorf("parsing enqueued_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// DeleteMutation removes a queue entry after successful replay.
func (s *Store) DeleteMutation(id int64) error {
	res, err := s.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMutationFailed records a failed replay attempt, leaving the entry in
// place for the next drain cycle.
func (s *Store) MarkMutationFailed(id int64, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE sync_queue SET status = 'failed', retry_count = retry_count + 1, last_error = ?
		WHERE id = ?`, errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearQueue removes every queue entry for a tenant. Used after a full
// reconciliation fetch supersedes the queue.
func (s *Store) ClearQueue(tenantID string) error {
	_, err := s.db.Exec("DELETE FROM sync_queue WHERE tenant_id = ?", tenantID)
	return err
}

// CountMutations returns the number of queued mutations for a tenant.
func (s *Store) CountMutations(tenantID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue WHERE tenant_id = ?", tenantID).Scan(&n)
	return n, err
}
