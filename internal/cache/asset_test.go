package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

// TestAssetFetchAndCache fetches an asset once, returns a local path, and
// serves the second request from the cache.
func TestAssetFetchAndCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	m, store := openTestManager(t, Options{HTTPClient: srv.Client()})

	url := srv.URL + "/site-photo.png"
	path := m.Asset(context.Background(), url, "t1", false)
	if path == url {
		t.Fatalf("Asset returned remote url, want local path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading materialized asset: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("asset content = %q, want %q", data, "png-bytes")
	}

	a, err := store.GetAsset(url, "t1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if a.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want %q", a.ContentType, "image/png")
	}

	// Second call is served from cache; the server sees no new request.
	path2 := m.Asset(context.Background(), url, "t1", false)
	if path2 != path {
		t.Errorf("second path = %q, want %q", path2, path)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

// TestAssetForceRefetch bypasses the cache when force is set.
func TestAssetForceRefetch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("v2"))
	}))
	defer srv.Close()

	m, _ := openTestManager(t, Options{HTTPClient: srv.Client()})

	url := srv.URL + "/firmware.bin"
	m.Asset(context.Background(), url, "t1", false)
	m.Asset(context.Background(), url, "t1", true)

	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

// TestAssetFallsBackToRemoteURL returns the original url on fetch failure
// instead of erroring.
func TestAssetFallsBackToRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	m, _ := openTestManager(t, Options{HTTPClient: srv.Client()})

	url := srv.URL + "/missing.png"
	got := m.Asset(context.Background(), url, "t1", false)
	if got != url {
		t.Errorf("Asset = %q, want fallback to %q", got, url)
	}

	// Unreachable host: the client errors, the caller still gets the url back.
	dead := "http://127.0.0.1:1/unreachable.png"
	if got := m.Asset(context.Background(), dead, "t1", false); got != dead {
		t.Errorf("Asset = %q, want fallback to %q", got, dead)
	}
}

// TestAssetTenantScoped caches the same url separately per tenant.
func TestAssetTenantScoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	m, store := openTestManager(t, Options{HTTPClient: srv.Client()})

	url := srv.URL + "/logo.svg"
	pathA := m.Asset(context.Background(), url, "tenant-a", false)
	pathB := m.Asset(context.Background(), url, "tenant-b", false)

	if pathA == pathB {
		t.Errorf("tenants share a materialized path %q, want distinct paths", pathA)
	}
	if !strings.HasPrefix(pathA, m.assetDir) || !strings.HasPrefix(pathB, m.assetDir) {
		t.Errorf("paths %q, %q should live under %q", pathA, pathB, m.assetDir)
	}

	if _, err := store.GetAsset(url, "tenant-a"); err != nil {
		t.Errorf("tenant-a asset: %v", err)
	}
	if _, err := store.GetAsset(url, "tenant-b"); err != nil {
		t.Errorf("tenant-b asset: %v", err)
	}
}
