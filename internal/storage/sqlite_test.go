package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the migration creates the expected indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_work_orders_tenant_status",
		"idx_work_orders_tenant_technician",
		"idx_work_orders_scheduled",
		"idx_cache_entries_last_accessed",
		"idx_assets_last_accessed",
		"idx_sync_queue_tenant_priority",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestClearTenantData verifies a clear deletes every table for one tenant
// while leaving other tenants' rows in place.
func TestClearTenantData(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	for _, tenant := range []string{"t1", "t2"} {
		wo := WorkOrder{
			ID:           "wo-" + tenant,
			TenantID:     tenant,
			Title:        "install modem",
			Status:       StatusPending,
			Priority:     "medium",
			SyncStatus:   SyncPending,
			CreatedAt:    now,
			LastModified: now,
		}
		if err := s.SaveWorkOrder(wo); err != nil {
			t.Fatalf("SaveWorkOrder(%s): %v", tenant, err)
		}
		if err := s.PutCacheEntry(CacheEntry{Key: "k", TenantID: tenant, Data: []byte("x"), Timestamp: now, TTL: time.Minute, SizeBytes: 1, LastAccessed: now}); err != nil {
			t.Fatalf("PutCacheEntry(%s): %v", tenant, err)
		}
		if err := s.PutAsset(AssetEntry{URL: "https://cdn/a.png", TenantID: tenant, Blob: []byte("x"), SizeBytes: 1, Timestamp: now, LastAccessed: now}); err != nil {
			t.Fatalf("PutAsset(%s): %v", tenant, err)
		}
		if _, err := s.EnqueueMutation(QueueEntry{TenantID: tenant, OperationType: OpCreate, PayloadJSON: "{}", Priority: 5}); err != nil {
			t.Fatalf("EnqueueMutation(%s): %v", tenant, err)
		}
	}

	if err := s.ClearTenantData("t1"); err != nil {
		t.Fatalf("ClearTenantData: %v", err)
	}

	if _, err := s.GetWorkOrder("wo-t1", "t1"); err != ErrNotFound {
		t.Errorf("t1 work order error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCacheEntry("k", "t1"); err != ErrNotFound {
		t.Errorf("t1 cache entry error = %v, want ErrNotFound", err)
	}
	if n, err := s.CountMutations("t1"); err != nil || n != 0 {
		t.Errorf("t1 mutations = %d (err %v), want 0", n, err)
	}

	if _, err := s.GetWorkOrder("wo-t2", "t2"); err != nil {
		t.Errorf("t2 work order should survive, got %v", err)
	}
	if n, err := s.CountMutations("t2"); err != nil || n != 1 {
		t.Errorf("t2 mutations = %d (err %v), want 1", n, err)
	}
}

// TestTenantIsolation verifies records under one tenant are invisible to another.
func TestTenantIsolation(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	wo := WorkOrder{
		ID:           "wo-shared-id",
		TenantID:     "tenant-a",
		Title:        "fiber splice",
		Status:       StatusPending,
		Priority:     "high",
		SyncStatus:   SyncSynced,
		CreatedAt:    now,
		LastModified: now,
	}
	if err := s.SaveWorkOrder(wo); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	if _, err := s.GetWorkOrder("wo-shared-id", "tenant-b"); err != ErrNotFound {
		t.Errorf("cross-tenant read error = %v, want ErrNotFound", err)
	}

	got, err := s.ListWorkOrders("tenant-b", "")
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("tenant-b sees %d work orders, want 0", len(got))
	}

	if err := s.PutCacheEntry(CacheEntry{Key: "route", TenantID: "tenant-a", Data: []byte("a"), Timestamp: now, TTL: time.Minute, SizeBytes: 1, LastAccessed: now}); err != nil {
		t.Fatalf("PutCacheEntry: %v", err)
	}
	if _, err := s.GetCacheEntry("route", "tenant-b"); err != ErrNotFound {
		t.Errorf("cross-tenant cache read error = %v, want ErrNotFound", err)
	}
}

func mustEnqueue(t *testing.T, s *Store, tenant, op string, priority int) int64 {
	t.Helper()
	id, err := s.EnqueueMutation(QueueEntry{TenantID: tenant, OperationType: op, PayloadJSON: "{}", Priority: priority})
	if err != nil {
		t.Fatalf("EnqueueMutation(prio %d): %v", priority, err)
	}
	return id
}

// TestListMutationsOrdering enqueues priorities [3,5,1,5] and expects the
// replay order [5,5,3,1] with ties broken by insertion order.
func TestListMutationsOrdering(t *testing.T) {
	s := openTestStore(t)

	idA := mustEnqueue(t, s, "t1", OpUpdate, 3)
	idB := mustEnqueue(t, s, "t1", OpCreate, 5)
	idC := mustEnqueue(t, s, "t1", OpUpdate, 1)
	idD := mustEnqueue(t, s, "t1", OpCreate, 5)

	got, err := s.ListMutations("t1")
	if err != nil {
		t.Fatalf("ListMutations: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d entries, want 4", len(got))
	}

	wantIDs := []int64{idB, idD, idA, idC}
	for i, want := range wantIDs {
		if got[i].ID != want {
			t.Errorf("position %d: id = %d, want %d", i, got[i].ID, want)
		}
	}
}

// TestEnqueueMutationPriorityRange rejects out-of-range priorities.
func TestEnqueueMutationPriorityRange(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []int{0, 11, -1} {
		if _, err := s.EnqueueMutation(QueueEntry{TenantID: "t1", OperationType: OpUpdate, PayloadJSON: "{}", Priority: p}); err == nil {
			t.Errorf("priority %d accepted, want error", p)
		}
	}
	if _, err := s.EnqueueMutation(QueueEntry{TenantID: "t1", OperationType: OpUpdate, PayloadJSON: "{}", Priority: 1}); err != nil {
		t.Errorf("priority 1 rejected: %v", err)
	}
	if _, err := s.EnqueueMutation(QueueEntry{TenantID: "t1", OperationType: OpUpdate, PayloadJSON: "{}", Priority: 10}); err != nil {
		t.Errorf("priority 10 rejected: %v", err)
	}
}

// TestMarkMutationFailed records the error and increments the retry counter
// without removing the entry.
func TestMarkMutationFailed(t *testing.T) {
	s := openTestStore(t)

	id := mustEnqueue(t, s, "t1", OpComplete, 10)

	if err := s.MarkMutationFailed(id, "network unreachable"); err != nil {
		t.Fatalf("MarkMutationFailed: %v", err)
	}
	if err := s.MarkMutationFailed(id, "timeout"); err != nil {
		t.Fatalf("MarkMutationFailed (second): %v", err)
	}

	got, err := s.ListMutations("t1")
	if err != nil {
		t.Fatalf("ListMutations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Status != "failed" {
		t.Errorf("Status = %q, want %q", got[0].Status, "failed")
	}
	if got[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got[0].RetryCount)
	}
	if got[0].LastError != "timeout" {
		t.Errorf("LastError = %q, want %q", got[0].LastError, "timeout")
	}
}

// TestDeleteMutationNotFound verifies deleting an absent queue entry returns ErrNotFound.
func TestDeleteMutationNotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.DeleteMutation(9999); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestCountMutations counts per tenant.
func TestCountMutations(t *testing.T) {
	s := openTestStore(t)

	mustEnqueue(t, s, "t1", OpCreate, 5)
	mustEnqueue(t, s, "t1", OpUpdate, 3)
	mustEnqueue(t, s, "t2", OpCreate, 5)

	n, err := s.CountMutations("t1")
	if err != nil {
		t.Fatalf("CountMutations: %v", err)
	}
	if n != 2 {
		t.Errorf("t1 count = %d, want 2", n)
	}

	n, err = s.CountMutations("t2")
	if err != nil {
		t.Fatalf("CountMutations: %v", err)
	}
	if n != 1 {
		t.Errorf("t2 count = %d, want 1", n)
	}
}

func fmtOrders(orders []WorkOrder) string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return fmt.Sprintf("%v", ids)
}
