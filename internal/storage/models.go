package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Work order status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Sync status values for local records.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
)

// TimelineEvent records a single state change on a work order.
type TimelineEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Description string            `json:"description"`
	Author      string            `json:"author,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

type WorkOrder struct {
	ID            string
	TenantID      string
	TechnicianID  string
	Title         string
	Description   string
	CustomerName  string
	Address       string
	Status        string // "pending", "in_progress", "completed", "cancelled"
	Priority      string // "low", "medium", "high", "urgent"
	ScheduledDate time.Time
	CompletedAt   time.Time
	Progress      int
	TimelineJSON  string // JSON array of TimelineEvent stored as text
	SyncStatus    string // "pending", "synced"
	CreatedAt     time.Time
	LastModified  time.Time
}

// CacheEntry is a cached API response keyed by (key, tenant_id).
// Reading an entry updates LastAccessed, so Get is a mutating access.
type CacheEntry struct {
	Key          string
	TenantID     string
	Data         []byte
	Timestamp    time.Time
	TTL          time.Duration
	SizeBytes    int64
	LastAccessed time.Time
	ETag         string
	Version      int
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.Timestamp.Add(e.TTL))
}

// AssetEntry is a remote asset blob cached on first fetch.
type AssetEntry struct {
	URL          string
	TenantID     string
	Blob         []byte
	ContentType  string
	SizeBytes    int64
	Timestamp    time.Time
	LastAccessed time.Time
}

// Queue operation types.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpComplete = "complete"
)

// QueueEntry is a pending mutation awaiting replay against the remote API.
type QueueEntry struct {
	ID            int64
	TenantID      string
	OperationType string // "create", "update", "complete"
	PayloadJSON   string
	Priority      int    // 1 (lowest) to 10 (highest)
	Status        string // "pending", "failed"
	RetryCount    int
	LastError     string
	EnqueuedAt    time.Time
}
