package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const workOrderColumns = `id, tenant_id, technician_id, title, description, customer_name, address,
	status, priority, scheduled_date, completed_at, progress, timeline_json, sync_status,
	created_at, last_modified`

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// SaveWorkOrder upserts a work order by id.
func (s *Store) SaveWorkOrder(wo WorkOrder) error {
	if wo.TimelineJSON == "" {
		wo.TimelineJSON = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO work_orders (`+workOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			technician_id = excluded.technician_id,
			title = excluded.title,
			description = excluded.description,
			customer_name = excluded.customer_name,
			address = excluded.address,
			status = excluded.status,
			priority = excluded.priority,
			scheduled_date = excluded.scheduled_date,
			completed_at = excluded.completed_at,
			progress = excluded.progress,
			timeline_json = excluded.timeline_json,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			last_modified = excluded.last_modified`,
		wo.ID, wo.TenantID, wo.TechnicianID, wo.Title, wo.Description, wo.CustomerName, wo.Address,
		wo.Status, wo.Priority, fmtTime(wo.ScheduledDate), fmtTime(wo.CompletedAt), wo.Progress,
		wo.TimelineJSON, wo.SyncStatus, fmtTime(wo.CreatedAt), fmtTime(wo.LastModified),
	)
	return err
}

func scanWorkOrder(scan func(dest ...any) error) (WorkOrder, error) {
	var wo WorkOrder
	var scheduled, completed, created, modified string
	err := scan(
		&wo.ID, &wo.TenantID, &wo.TechnicianID, &wo.Title, &wo.Description, &wo.CustomerName,
		&wo.Address, &wo.Status, &wo.Priority, &scheduled, &completed, &wo.Progress,
		&wo.TimelineJSON, &wo.SyncStatus, &created, &modified,
	)
	if err != nil {
		return WorkOrder{}, err
	}
	if wo.ScheduledDate, err = parseTime(scheduled); err != nil {
		return WorkOrder{}, fmt.Errorf("parsing scheduled_date: %w", err)
	}
	if wo.CompletedAt, err = parseTime(completed); err != nil {
		return WorkOrder{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	if wo.CreatedAt, err = parseTime(created); err != nil {
		return WorkOrder{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if wo.LastModified, err = parseTime(modified); err != nil {
		return WorkOrder{}, fmt.Errorf("parsing last_modified: %w", err)
	}
	return wo, nil
}

// GetWorkOrder retrieves a work order by id within a tenant.
func (s *Store) GetWorkOrder(id, tenantID string) (WorkOrder, error) {
	row := s.db.QueryRow(`SELECT `+workOrderColumns+` FROM work_orders WHERE id = ? AND tenant_id = ?`, id, tenantID)
	wo, err := scanWorkOrder(row.Scan)
	if err == sql.ErrNoRows {
		return WorkOrder{}, ErrNotFound
	}
	return wo, err
}

func (s *Store) queryWorkOrders(query string, args ...any) ([]WorkOrder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, wo)
	}
	return results, rows.Err()
}

// ListWorkOrders returns all work orders for a tenant, newest scheduled first.
// If technicianID is non-empty, results are scoped to that technician.
func (s *Store) ListWorkOrders(tenantID, technicianID string) ([]WorkOrder, error) {
	if technicianID != "" {
		return s.queryWorkOrders(`SELECT `+workOrderColumns+` FROM work_orders
			WHERE tenant_id = ? AND technician_id = ?
			ORDER BY scheduled_date DESC, id ASC`, tenantID, technicianID)
	}
	return s.queryWorkOrders(`SELECT `+workOrderColumns+` FROM work_orders
		WHERE tenant_id = ?
		ORDER BY scheduled_date DESC, id ASC`, tenantID)
}

// ListWorkOrdersByStatus returns work orders matching the (tenant_id, status) compound key.
func (s *Store) ListWorkOrdersByStatus(tenantID, status string) ([]WorkOrder, error) {
	return s.queryWorkOrders(`SELECT `+workOrderColumns+` FROM work_orders
		WHERE tenant_id = ? AND status = ?
		ORDER BY scheduled_date DESC, id ASC`, tenantID, status)
}

// ListWorkOrdersByDateRange returns work orders scheduled within [from, to].
func (s *Store) ListWorkOrdersByDateRange(tenantID string, from, to time.Time) ([]WorkOrder, error) {
	return s.queryWorkOrders(`SELECT `+workOrderColumns+` FROM work_orders
		WHERE tenant_id = ? AND scheduled_date >= ? AND scheduled_date <= ?
		ORDER BY scheduled_date ASC, id ASC`, tenantID, fmtTime(from), fmtTime(to))
}

// SearchWorkOrders performs a case-insensitive substring match over title,
// description, customer name, address, and id.
func (s *Store) SearchWorkOrders(tenantID, term string) ([]WorkOrder, error) {
	pattern := "%" + term + "%"
	return s.queryWorkOrders(`SELECT `+workOrderColumns+` FROM work_orders
		WHERE tenant_id = ? AND (
			title LIKE ? COLLATE NOCASE OR
			description LIKE ? COLLATE NOCASE OR
			customer_name LIKE ? COLLATE NOCASE OR
			address LIKE ? COLLATE NOCASE OR
			id LIKE ? COLLATE NOCASE
		)
		ORDER BY scheduled_date DESC, id ASC`,
		tenantID, pattern, pattern, pattern, pattern, pattern)
}

// WorkOrderChange is one element of a BulkUpdateWorkOrders batch.
type WorkOrderChange struct {
	ID      string
	Changes map[string]any
}

// allowed column targets for bulk updates; guards against SQL injection
// through caller-supplied field names.
var bulkUpdateColumns = map[string]bool{
	"title":         true,
	"description":   true,
	"customer_name": true,
	"address":       true,
	"status":        true,
	"priority":      true,
	"progress":      true,
	"sync_status":   true,
	"timeline_json": true,
}

// BulkUpdateWorkOrders applies all changes in a single transaction.
// If any change fails, the whole batch is rolled back.
func (s *Store) BulkUpdateWorkOrders(tenantID string, batch []WorkOrderChange) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bulk update: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	for _, change := range batch {
		for column, value := range change.Changes {
			if !bulkUpdateColumns[column] {
				return fmt.Errorf("bulk update of column %q is not allowed", column)
			}
			res, err := tx.Exec(
				"UPDATE work_orders SET "+column+" = ?, last_modified = ? WHERE id = ? AND tenant_id = ?",
				value, now, change.ID, tenantID,
			)
			if err != nil {
				return fmt.Errorf("updating %s on %s: %w", column, change.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("checking updated rows for %s: %w", change.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("work order %s: %w", change.ID, ErrNotFound)
			}
		}
	}

	return tx.Commit()
}

// DeleteWorkOrder removes a work order by id.
func (s *Store) DeleteWorkOrder(id, tenantID string) error {
	res, err := s.db.Exec("DELETE FROM work_orders WHERE id = ? AND tenant_id = ?", id, tenantID)
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

// CleanupOlderThan deletes work orders in the given statuses whose last
// modification is older than the age threshold. Returns the number deleted.
func (s *Store) CleanupOlderThan(tenantID string, age time.Duration, statuses []string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	cutoff := fmtTime(time.Now().Add(-age))
	query := "DELETE FROM work_orders WHERE tenant_id = ? AND last_modified < ? AND status IN (?"
	args := []any{tenantID, cutoff, statuses[0]}
	for _, st := range statuses[1:] {
		query += ",?"
		args = append(args, st)
	}
	query += ")"

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceWorkOrders atomically replaces the tenant's (optionally
// technician-scoped) work orders with the given server-confirmed set.
/// Used by reconciliation: either the full replace lands or nothing changes.
func (s *Store) ReplaceWorkOrders(tenantID, technicianID string, orders []WorkOrder) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace: %w", err)
	}
	defer tx.Rollback()

	if technicianID != "" {
		_, err = tx.Exec("DELETE FROM work_orders WHERE tenant_id = ? AND technician_id = ?", tenantID, technicianID)
	} else {
		_, err = tx.Exec("DELETE FROM work_orders WHERE tenant_id = ?", tenantID)
	}
	if err != nil {
		return fmt.Errorf("clearing work orders: %w", err)
	}

	for _, wo := range orders {
		if wo.TimelineJSON == "" {
			wo.TimelineJSON = "[]"
		}
		_, err := tx.Exec(`INSERT INTO work_orders (`+workOrderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			wo.ID, wo.TenantID, wo.TechnicianID, wo.Title, wo.Description, wo.CustomerName, wo.Address,
			wo.Status, wo.Priority, fmtTime(wo.ScheduledDate), fmtTime(wo.CompletedAt), wo.Progress,
			wo.TimelineJSON, wo.SyncStatus, fmtTime(wo.CreatedAt), fmtTime(wo.LastModified),
		)
		if err != nil {
			return fmt.Errorf("inserting work order %s: %w", wo.ID, err)
		}
	}

	return tx.Commit()
}
