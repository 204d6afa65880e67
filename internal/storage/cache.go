package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCacheEntry retrieves a cache entry and touches its last_accessed
// timestamp. The touch is intentional: eviction ranks entries by recency
// of access, so a read is also a write of access metadata.
func (s *Store) GetCacheEntry(key, tenantID string) (CacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT key, tenant_id, data, timestamp, ttl_ms, size_bytes, last_accessed, etag, version
		FROM cache_entries WHERE key = ? AND tenant_id = ?`, key, tenantID)

	var e CacheEntry
	var ts, accessed string
	var ttlMs int64
	err := row.Scan(&e.Key, &e.TenantID, &e.Data, &ts, &ttlMs, &e.SizeBytes, &accessed, &e.ETag, &e.Version)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}
	e.TTL = time.Duration(ttlMs) * time.Millisecond
	if e.Timestamp, err = parseTime(ts); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	if e.LastAccessed, err = parseTime(accessed); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing last_accessed: %w", err)
	}

	now := time.Now()
	if _, err := s.db.Exec(`UPDATE cache_entries SET last_accessed = ? WHERE key = ? AND tenant_id = ?`,
		fmtTime(now), key, tenantID); err != nil {
		return CacheEntry{}, fmt.Errorf("touching cache entry: %w", err)
	}
	e.LastAccessed = now

	return e, nil
}

// PutCacheEntry upserts a cache entry by (key, tenant_id).
func (s *Store) PutCacheEntry(e CacheEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, tenant_id, data, timestamp, ttl_ms, size_bytes, last_accessed, etag, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, tenant_id) DO UPDATE SET
			data = excluded.data,
			timestamp = excluded.timestamp,
			ttl_ms = excluded.ttl_ms,
			size_bytes = excluded.size_bytes,
			last_accessed = excluded.last_accessed,
			etag = excluded.etag,
			version = excluded.version`,
		e.Key, e.TenantID, e.Data, fmtTime(e.Timestamp), e.TTL.Milliseconds(),
		e.SizeBytes, fmtTime(e.LastAccessed), e.ETag, e.Version,
	)
	return err
}

// DeleteCacheEntry removes a cache entry. Deleting an absent entry is a no-op.
func (s *Store) DeleteCacheEntry(key, tenantID string) error {
	_, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ? AND tenant_id = ?", key, tenantID)
	return err
}

// CacheSize returns the aggregate stored bytes of cache entries and assets
// across all tenants.
func (s *Store) CacheSize() (int64, error) {
	var entries, assets int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries").Scan(&entries); err != nil {
		return 0, err
	}
	if err := s.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM assets").Scan(&assets); err != nil {
		return 0, err
	}
	return entries + assets, nil
}

// ListCacheEntriesByAccess returns cache entries ordered least-recently-accessed
// first, without touching access metadata. Used by eviction.
func (s *Store) ListCacheEntriesByAccess() ([]CacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT key, tenant_id, size_bytes, last_accessed
		FROM cache_entries ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var accessed string
		if err := rows.Scan(&e.Key, &e.TenantID, &e.SizeBytes, &accessed); err != nil {
			return nil, err
		}
		if e.LastAccessed, err = parseTime(accessed); err != nil {
			return nil, fmt.Errorf("parsing last_accessed: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// GetAsset retrieves a cached asset blob and touches its last_accessed timestamp.
func (s *Store) GetAsset(url, tenantID string) (AssetEntry, error) {
	row := s.db.QueryRow(`
		SELECT url, tenant_id, blob, content_type, size_bytes, timestamp, last_accessed
		FROM assets WHERE url = ? AND tenant_id = ?`, url, tenantID)

	var a AssetEntry
	var ts, accessed string
	err := row.Scan(&a.URL, &a.TenantID, &a.Blob, &a.ContentType, &a.SizeBytes, &ts, &accessed)
	if err == sql.ErrNoRows {
		return AssetEntry{}, ErrNotFound
	}
	if err != nil {
		return AssetEntry{}, err
	}
	if a.Timestamp, err = parseTime(ts); err != nil {
		return AssetEntry{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	if a.LastAccessed, err = parseTime(accessed); err != nil {
		return AssetEntry{}, fmt.Errorf("parsing last_accessed: %w", err)
	}

	now := time.Now()
	if _, err := s.db.Exec(`UPDATE assets SET last_accessed = ? WHERE url = ? AND tenant_id = ?`,
		fmtTime(now), url, tenantID); err != nil {
		return AssetEntry{}, fmt.Errorf("touching asset: %w", err)
	}
	a.LastAccessed = now

	return a, nil
}

// PutAsset upserts an asset blob by (url, tenant_id).
func (s *Store) PutAsset(a AssetEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO assets (url, tenant_id, blob, content_type, size_bytes, timestamp, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, tenant_id) DO UPDATE SET
			blob = excluded.blob,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes,
			timestamp = excluded.timestamp,
			last_accessed = excluded.last_accessed`,
		a.URL, a.TenantID, a.Blob, a.ContentType, a.SizeBytes, fmtTime(a.Timestamp), fmtTime(a.LastAccessed),
	)
	return err
}

// DeleteAsset removes a cached asset. Deleting an absent asset is a no-op.
func (s *Store) DeleteAsset(url, tenantID string) error {
	_, err := s.db.Exec("DELETE FROM assets WHERE url = ? AND tenant_id = ?", url, tenantID)
	return err
}

// ListAssetsByAccess returns assets ordered least-recently-accessed first,
// without touching access metadata. Used by eviction.
func (s *Store) ListAssetsByAccess() ([]AssetEntry, error) {
	rows, err := s.db.Query(`
		SELECT url, tenant_id, size_bytes, last_accessed
		FROM assets ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AssetEntry
	for rows.Next() {
		var a AssetEntry
		var accessed string
		if err := rows.Scan(&a.URL, &a.TenantID, &a.SizeBytes, &accessed); err != nil {
			return nil, err
		}
		if a.LastAccessed, err = parseTime(accessed); err != nil {
			return nil, fmt.Errorf("parsing last_accessed: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
