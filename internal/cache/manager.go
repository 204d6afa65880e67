// Package cache provides a TTL-aware key/value cache with a hard size
// budget, fronting the persistent store.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ispkit/fieldsync/internal/storage"
)

// When the aggregate size exceeds the budget, eviction targets this
// fraction of the budget so sets don't immediately re-trigger it.
const evictionTargetRatio = 0.8

// Manager fronts the persistent store with TTL expiry and LRU eviction.
type Manager struct {
	store      *storage.Store
	httpClient *http.Client
	maxBytes   int64
	defaultTTL time.Duration
	assetDir   string
	logger     *slog.Logger

	now func() time.Time // overridable in tests
}

// Options configures a Manager.
type Options struct {
	MaxBytes   int64         // hard cache budget in bytes
	DefaultTTL time.Duration // TTL applied when a set does not specify one
	AssetDir   string        // directory where cached assets are materialized
	HTTPClient *http.Client  // used for asset fetches; defaults to a 15s-timeout client
}

// NewManager creates a cache Manager over the given store.
func NewManager(store *storage.Store, opts Options) *Manager {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 << 20 // 50MB
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Manager{
		store:      store,
		httpClient: opts.HTTPClient,
		maxBytes:   opts.MaxBytes,
		defaultTTL: opts.DefaultTTL,
		assetDir:   opts.AssetDir,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// composeKey builds the storage key from the logical key plus serialized
// params, so the same endpoint cached with different params stays distinct.
func composeKey(key string, params any) (string, error) {
	if params == nil {
		return key, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serializing cache params: %w", err)
	}
	return key + ":" + string(data), nil
}

// Get loads a cached value into out and reports whether it was found.
// Expired entries are deleted on read (lazy expiry). Storage read failures
// degrade to a miss so callers can still render stale or empty state.
func (m *Manager) Get(key, tenantID string, params, out any) (bool, error) {
	cacheKey, err := composeKey(key, params)
	if err != nil {
		return false, err
	}

	entry, err := m.store.GetCacheEntry(cacheKey, tenantID)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		m.logger.Warn("cache read failed, treating as miss", "key", cacheKey, "error", err)
		return false, nil
	}

	if entry.Expired(m.now()) {
		if err := m.store.DeleteCacheEntry(cacheKey, tenantID); err != nil {
			m.logger.Warn("failed to delete expired entry", "key", cacheKey, "error", err)
		}
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(entry.Data, out); err != nil {
			return false, fmt.Errorf("decoding cached value for %s: %w", cacheKey, err)
		}
	}
	return true, nil
}

// SetOptions carries optional conditional-request metadata for an entry.
type SetOptions struct {
	ETag    string
	Version int
}

// Set serializes value and upserts it under (key+params, tenantID). After
// every set the aggregate cache size is checked against the budget and
// least-recently-accessed entries are evicted if it is exceeded.
func (m *Manager) Set(key, tenantID string, params, value any, ttl time.Duration, opts SetOptions) error {
	cacheKey, err := composeKey(key, params)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing cache value for %s: %w", cacheKey, err)
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now()
	entry := storage.CacheEntry{
		Key:          cacheKey,
		TenantID:     tenantID,
		Data:         data,
		Timestamp:    now,
		TTL:          ttl,
		SizeBytes:    int64(len(data)),
		LastAccessed: now,
		ETag:         opts.ETag,
		Version:      opts.Version,
	}
	if err := m.store.PutCacheEntry(entry); err != nil {
		return fmt.Errorf("storing cache entry %s: %w", cacheKey, err)
	}

	if err := m.enforceBudget(); err != nil {
		m.logger.Warn("cache eviction failed", "error", err)
	}
	return nil
}

// Delete removes a cached value. Deleting an absent entry is a no-op.
func (m *Manager) Delete(key, tenantID string, params any) error {
	cacheKey, err := composeKey(key, params)
	if err != nil {
		return err
	}
	return m.store.DeleteCacheEntry(cacheKey, tenantID)
}

// enforceBudget evicts least-recently-accessed entries until the aggregate
// size is at or below 80% of the budget. Cache entries are evicted before
// assets.
func (m *Manager) enforceBudget() error {
	total, err := m.store.CacheSize()
	if err != nil {
		return fmt.Errorf("sizing cache: %w", err)
	}
	if total <= m.maxBytes {
		return nil
	}

	target := int64(float64(m.maxBytes) * evictionTargetRatio)
	toFree := total - target
	var freed int64

	entries, err := m.store.ListCacheEntriesByAccess()
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, e := range entries {
		if freed >= toFree {
			break
		}
		if err := m.store.DeleteCacheEntry(e.Key, e.TenantID); err != nil {
			return fmt.Errorf("evicting %s: %w", e.Key, err)
		}
		freed += e.SizeBytes
	}

	if freed >= toFree {
		m.logger.Debug("cache eviction complete", "freed_bytes", freed)
		return nil
	}

	assets, err := m.store.ListAssetsByAccess()
	if err != nil {
		return fmt.Errorf("listing assets: %w", err)
	}
	for _, a := range assets {
		if freed >= toFree {
			break
		}
		if err := m.store.DeleteAsset(a.URL, a.TenantID); err != nil {
			return fmt.Errorf("evicting asset %s: %w", a.URL, err)
		}
		freed += a.SizeBytes
	}

	m.logger.Debug("cache eviction complete", "freed_bytes", freed)
	return nil
}

// ClearTenantData purges exactly the given tenant's cache, asset, and queue
// rows. Used on tenant switch and logout.
func (m *Manager) ClearTenantData(tenantID string) error {
	return m.store.ClearTenantData(tenantID)
}

// Size returns the aggregate cached bytes across entries and assets.
func (m *Manager) Size() (int64, error) {
	return m.store.CacheSize()
}
