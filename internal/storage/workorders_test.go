package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testWorkOrder(id, tenant string, scheduled time.Time) WorkOrder {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return WorkOrder{
		ID:            id,
		TenantID:      tenant,
		TechnicianID:  "tech-1",
		Title:         "Install fiber ONT",
		Description:   "New customer install, bring spare ONT",
		CustomerName:  "Dana Whitfield",
		Address:       "42 Elm St",
		Status:        StatusPending,
		Priority:      "medium",
		ScheduledDate: scheduled,
		TimelineJSON:  "[]",
		SyncStatus:    SyncPending,
		CreatedAt:     now,
		LastModified:  now,
	}
}

// TestSaveAndGetWorkOrder saves a work order and retrieves it by id.
func TestSaveAndGetWorkOrder(t *testing.T) {
	s := openTestStore(t)

	scheduled := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want := testWorkOrder("wo-001", "t1", scheduled)

	if err := s.SaveWorkOrder(want); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	got, err := s.GetWorkOrder("wo-001", "t1")
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.Title != want.Title {
		t.Errorf("Title = %q, want %q", got.Title, want.Title)
	}
	if got.CustomerName != want.CustomerName {
		t.Errorf("CustomerName = %q, want %q", got.CustomerName, want.CustomerName)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, SyncPending)
	}
	if !got.ScheduledDate.Equal(scheduled) {
		t.Errorf("ScheduledDate = %v, want %v", got.ScheduledDate, scheduled)
	}
	if !got.CompletedAt.IsZero() {
		t.Errorf("CompletedAt = %v, want zero", got.CompletedAt)
	}
	if got.TimelineJSON != "[]" {
		t.Errorf("TimelineJSON = %q, want %q", got.TimelineJSON, "[]")
	}
}

// TestSaveWorkOrderUpsert overwrites an existing row on conflict.
func TestSaveWorkOrderUpsert(t *testing.T) {
	s := openTestStore(t)

	wo := testWorkOrder("wo-up", "t1", time.Time{})
	if err := s.SaveWorkOrder(wo); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	wo.Status = StatusInProgress
	wo.Progress = 40
	if err := s.SaveWorkOrder(wo); err != nil {
		t.Fatalf("SaveWorkOrder (upsert): %v", err)
	}

	got, err := s.GetWorkOrder("wo-up", "t1")
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, StatusInProgress)
	}
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40", got.Progress)
	}
}

// TestGetWorkOrderNotFound verifies a missing id returns ErrNotFound.
func TestGetWorkOrderNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetWorkOrder("does-not-exist", "t1")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestListWorkOrdersByStatus filters on the (tenant, status) compound key.
func TestListWorkOrdersByStatus(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 4; i++ {
		wo := testWorkOrder(fmt.Sprintf("wo-%02d", i), "t1", time.Time{})
		if i%2 == 0 {
			wo.Status = StatusCompleted
		}
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder %d: %v", i, err)
		}
	}

	got, err := s.ListWorkOrdersByStatus("t1", StatusCompleted)
	if err != nil {
		t.Fatalf("ListWorkOrdersByStatus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d orders, want 2: %s", len(got), fmtOrders(got))
	}
	for _, wo := range got {
		if wo.Status != StatusCompleted {
			t.Errorf("order %s status = %q, want %q", wo.ID, wo.Status, StatusCompleted)
		}
	}
}

// TestListWorkOrdersByTechnician scopes results when a technician id is given.
func TestListWorkOrdersByTechnician(t *testing.T) {
	s := openTestStore(t)

	a := testWorkOrder("wo-a", "t1", time.Time{})
	a.TechnicianID = "tech-a"
	b := testWorkOrder("wo-b", "t1", time.Time{})
	b.TechnicianID = "tech-b"
	for _, wo := range []WorkOrder{a, b} {
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder: %v", err)
		}
	}

	got, err := s.ListWorkOrders("t1", "tech-a")
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(got) != 1 || got[0].ID != "wo-a" {
		t.Errorf("got %s, want [wo-a]", fmtOrders(got))
	}

	all, err := s.ListWorkOrders("t1", "")
	if err != nil {
		t.Fatalf("ListWorkOrders (all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d orders, want 2", len(all))
	}
}

// TestListWorkOrdersByDateRange returns orders scheduled inside the window,
// oldest first.
func TestListWorkOrdersByDateRange(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		wo := testWorkOrder(fmt.Sprintf("wo-%02d", i), "t1", base.AddDate(0, 0, i))
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder %d: %v", i, err)
		}
	}

	got, err := s.ListWorkOrdersByDateRange("t1", base.AddDate(0, 0, 1), base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("ListWorkOrdersByDateRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d orders, want 3: %s", len(got), fmtOrders(got))
	}
	if got[0].ID != "wo-01" || got[2].ID != "wo-03" {
		t.Errorf("range order = %s, want [wo-01 wo-02 wo-03]", fmtOrders(got))
	}
}

// TestSearchWorkOrders matches substrings case-insensitively across fields.
func TestSearchWorkOrders(t *testing.T) {
	s := openTestStore(t)

	a := testWorkOrder("wo-search-1", "t1", time.Time{})
	a.Title = "Replace damaged drop cable"
	a.CustomerName = "Acme Industrial"
	b := testWorkOrder("wo-search-2", "t1", time.Time{})
	b.Title = "Modem swap"
	b.Address = "99 Acacia Ave"
	for _, wo := range []WorkOrder{a, b} {
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder: %v", err)
		}
	}

	cases := []struct {
		term string
		want []string
	}{
		{"DROP CABLE", []string{"wo-search-1"}},
		{"acme", []string{"wo-search-1"}},
		{"acacia", []string{"wo-search-2"}},
		{"wo-search", []string{"wo-search-1", "wo-search-2"}},
		{"no-such-thing", nil},
	}
	for _, tc := range cases {
		got, err := s.SearchWorkOrders("t1", tc.term)
		if err != nil {
			t.Fatalf("SearchWorkOrders(%q): %v", tc.term, err)
		}
		if len(got) != len(tc.want) {
			t.Errorf("search %q: got %s, want %v", tc.term, fmtOrders(got), tc.want)
			continue
		}
		for i, id := range tc.want {
			if got[i].ID != id {
				t.Errorf("search %q position %d: got %q, want %q", tc.term, i, got[i].ID, id)
			}
		}
	}
}

// TestBulkUpdateWorkOrders applies all changes in one transaction.
func TestBulkUpdateWorkOrders(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"wo-b1", "wo-b2"} {
		if err := s.SaveWorkOrder(testWorkOrder(id, "t1", time.Time{})); err != nil {
			t.Fatalf("SaveWorkOrder(%s): %v", id, err)
		}
	}

	batch := []WorkOrderChange{
		{ID: "wo-b1", Changes: map[string]any{"status": StatusInProgress, "progress": 25}},
		{ID: "wo-b2", Changes: map[string]any{"priority": "urgent"}},
	}
	if err := s.BulkUpdateWorkOrders("t1", batch); err != nil {
		t.Fatalf("BulkUpdateWorkOrders: %v", err)
	}

	got, err := s.GetWorkOrder("wo-b1", "t1")
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if got.Status != StatusInProgress || got.Progress != 25 {
		t.Errorf("wo-b1 = (%q, %d), want (%q, 25)", got.Status, got.Progress, StatusInProgress)
	}

	got, err = s.GetWorkOrder("wo-b2", "t1")
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if got.Priority != "urgent" {
		t.Errorf("wo-b2 priority = %q, want %q", got.Priority, "urgent")
	}
}

// TestBulkUpdateWorkOrders_Atomic rolls the whole batch back when one change
// targets a missing row.
func TestBulkUpdateWorkOrders_Atomic(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveWorkOrder(testWorkOrder("wo-atomic", "t1", time.Time{})); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	batch := []WorkOrderChange{
		{ID: "wo-atomic", Changes: map[string]any{"status": StatusCancelled}},
		{ID: "wo-missing", Changes: map[string]any{"status": StatusCancelled}},
	}
	err := s.BulkUpdateWorkOrders("t1", batch)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	got, err := s.GetWorkOrder("wo-atomic", "t1")
	if err != nil {
		t.Fatalf("GetWorkOrder: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q after failed batch, want %q (rolled back)", got.Status, StatusPending)
	}
}

// TestBulkUpdateWorkOrders_RejectsUnknownColumn refuses columns outside the allowlist.
func TestBulkUpdateWorkOrders_RejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveWorkOrder(testWorkOrder("wo-col", "t1", time.Time{})); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	batch := []WorkOrderChange{
		{ID: "wo-col", Changes: map[string]any{"tenant_id": "t-evil"}},
	}
	if err := s.BulkUpdateWorkOrders("t1", batch); err == nil {
		t.Error("expected error for disallowed column, got nil")
	}
}

// TestDeleteWorkOrder removes the row; a second delete returns ErrNotFound.
func TestDeleteWorkOrder(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveWorkOrder(testWorkOrder("wo-del", "t1", time.Time{})); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	if err := s.DeleteWorkOrder("wo-del", "t1"); err != nil {
		t.Fatalf("DeleteWorkOrder: %v", err)
	}
	if err := s.DeleteWorkOrder("wo-del", "t1"); err != ErrNotFound {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

// TestCleanupOlderThan deletes only stale terminal-status orders.
func TestCleanupOlderThan(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)

	stale := testWorkOrder("wo-stale", "t1", time.Time{})
	stale.Status = StatusCompleted
	stale.LastModified = old

	fresh := testWorkOrder("wo-fresh", "t1", time.Time{})
	fresh.Status = StatusCompleted
	fresh.LastModified = time.Now().UTC()

	open := testWorkOrder("wo-open", "t1", time.Time{})
	open.Status = StatusPending
	open.LastModified = old

	for _, wo := range []WorkOrder{stale, fresh, open} {
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder(%s): %v", wo.ID, err)
		}
	}

	n, err := s.CleanupOlderThan("t1", 24*time.Hour, []string{StatusCompleted, StatusCancelled})
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d orders, want 1", n)
	}

	if _, err := s.GetWorkOrder("wo-stale", "t1"); err != ErrNotFound {
		t.Errorf("stale order error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetWorkOrder("wo-fresh", "t1"); err != nil {
		t.Errorf("fresh order should survive, got %v", err)
	}
	if _, err := s.GetWorkOrder("wo-open", "t1"); err != nil {
		t.Errorf("open order should survive, got %v", err)
	}
}

// TestReplaceWorkOrders swaps the technician's set for the server-confirmed one.
func TestReplaceWorkOrders(t *testing.T) {
	s := openTestStore(t)

	local := testWorkOrder("wo-local", "t1", time.Time{})
	if err := s.SaveWorkOrder(local); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	server := []WorkOrder{
		testWorkOrder("wo-srv-1", "t1", time.Time{}),
		testWorkOrder("wo-srv-2", "t1", time.Time{}),
	}
	for i := range server {
		server[i].SyncStatus = SyncSynced
	}

	if err := s.ReplaceWorkOrders("t1", "tech-1", server); err != nil {
		t.Fatalf("ReplaceWorkOrders: %v", err)
	}

	if _, err := s.GetWorkOrder("wo-local", "t1"); err != ErrNotFound {
		t.Errorf("local-only order error = %v, want ErrNotFound", err)
	}

	got, err := s.ListWorkOrders("t1", "tech-1")
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d orders, want 2: %s", len(got), fmtOrders(got))
	}
	for _, wo := range got {
		if wo.SyncStatus != SyncSynced {
			t.Errorf("order %s sync status = %q, want %q", wo.ID, wo.SyncStatus, SyncSynced)
		}
	}
}

// TestReplaceWorkOrders_OtherTechnicianUntouched keeps rows outside the scope.
func TestReplaceWorkOrders_OtherTechnicianUntouched(t *testing.T) {
	s := openTestStore(t)

	other := testWorkOrder("wo-other", "t1", time.Time{})
	other.TechnicianID = "tech-other"
	if err := s.SaveWorkOrder(other); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	if err := s.ReplaceWorkOrders("t1", "tech-1", nil); err != nil {
		t.Fatalf("ReplaceWorkOrders: %v", err)
	}

	if _, err := s.GetWorkOrder("wo-other", "t1"); err != nil {
		t.Errorf("other technician's order should survive, got %v", err)
	}
}
