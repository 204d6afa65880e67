package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ispkit/fieldsync/internal/storage"
)

const maxAssetSize = 20 << 20 // 20MB

// Asset fetches a remote asset through the cache and returns a local file
// path the UI can load. On a miss (or force=true) the asset is fetched,
// stored, and materialized under the asset directory. Any failure falls
// back to returning the original remote URL; Asset never fails the caller.
func (m *Manager) Asset(ctx context.Context, url, tenantID string, force bool) string {
	if !force {
		if a, err := m.store.GetAsset(url, tenantID); err == nil {
			if path, err := m.materialize(a); err == nil {
				return path
			} else {
				m.logger.Warn("materializing cached asset failed", "url", url, "error", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		m.logger.Warn("invalid asset url", "url", url, "error", err)
		return url
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("asset fetch failed, falling back to remote url", "url", url, "error", err)
		return url
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn("asset fetch returned error status", "url", url, "status", resp.StatusCode)
		return url
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		m.logger.Warn("reading asset body failed", "url", url, "error", err)
		return url
	}

	now := m.now()
	a := storage.AssetEntry{
		URL:          url,
		TenantID:     tenantID,
		Blob:         blob,
		ContentType:  resp.Header.Get("Content-Type"),
		SizeBytes:    int64(len(blob)),
		Timestamp:    now,
		LastAccessed: now,
	}
	if err := m.store.PutAsset(a); err != nil {
		m.logger.Warn("storing asset failed", "url", url, "error", err)
		return url
	}

	if err := m.enforceBudget(); err != nil {
		m.logger.Warn("cache eviction failed", "error", err)
	}

	path, err := m.materialize(a)
	if err != nil {
		m.logger.Warn("materializing asset failed", "url", url, "error", err)
		return url
	}
	return path
}

// materialize writes the asset blob to a content-addressed file under the
// asset directory and returns its path. Existing files are reused.
func (m *Manager) materialize(a storage.AssetEntry) (string, error) {
	sum := sha256.Sum256([]byte(a.TenantID + "\x00" + a.URL))
	path := filepath.Join(m.assetDir, hex.EncodeToString(sum[:16]))

	if info, err := os.Stat(path); err == nil && info.Size() == a.SizeBytes {
		return path, nil
	}

	if err := os.MkdirAll(m.assetDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, a.Blob, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
