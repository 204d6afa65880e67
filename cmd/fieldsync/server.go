package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ispkit/fieldsync/internal/api"
	"github.com/ispkit/fieldsync/internal/cache"
	"github.com/ispkit/fieldsync/internal/config"
	"github.com/ispkit/fieldsync/internal/remote"
	"github.com/ispkit/fieldsync/internal/storage"
	"github.com/ispkit/fieldsync/internal/workorder"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fieldsync daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fieldsync daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fieldsync system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fieldsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fieldsync version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fieldsync is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("fieldsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the cache, remote client, and work order manager.
	cacheMgr := cache.NewManager(store, cache.Options{
		MaxBytes:   int64(cfg.Cache.MaxBytes),
		DefaultTTL: parseDurationOr(cfg.Cache.DefaultTTL, 5*time.Minute),
		AssetDir:   filepath.Join(cfg.Storage.DataDir, "assets"),
	})
	remoteClient := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIToken)

	// Warm the hot read paths through the cache manager with the configured
	// prefetch strategy. The manager variable is assigned below; the closure
	// only runs after sync cycles.
	var manager *workorder.Manager
	warmCache := func(ctx context.Context) {
		ttl := parseDurationOr(cfg.Cache.DefaultTTL, 5*time.Minute)
		cacheMgr.Prefetch(ctx, cfg.Identity.TenantID, cfg.Cache.PrefetchStrategy, []cache.PrefetchItem{
			{
				Key:      "work-orders:list",
				TTL:      ttl,
				Priority: 10,
				Fetch: func(context.Context) (any, error) {
					return manager.List(), nil
				},
			},
			{
				Key:      "work-orders:metrics",
				TTL:      ttl,
				Priority: 5,
				Fetch: func(context.Context) (any, error) {
					metrics, err := manager.Metrics()
					return metrics, err
				},
			},
		})
	}

	manager = workorder.NewManager(store, remoteClient, workorder.Options{
		TenantID:     cfg.Identity.TenantID,
		TechnicianID: cfg.Identity.TechnicianID,
		Author:       cfg.Identity.TechnicianID,
		AutoSync:     cfg.Sync.AutoSync,
		SyncInterval: parseDurationOr(cfg.Sync.Interval, 30*time.Second),
		RetentionAge: parseDurationOr(cfg.Storage.RetentionAge, 720*time.Hour),
		AfterSync:    warmCache,
	})

	// Warm once on startup so the first UI reads hit the cache even before
	// the first sync completes.
	go warmCache(ctx)

	// Run the periodic sync loop when auto-sync is on.
	if cfg.Sync.AutoSync {
		go manager.Run(ctx)
	}

	handler := api.NewHandler(api.Deps{
		Manager:  manager,
		Cache:    cacheMgr,
		TenantID: cfg.Identity.TenantID,
		Token:    cfg.Remote.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fieldsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fieldsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fieldsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fieldsync (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check daemon health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := healthClient.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Tenant", "%s", cfg.Identity.TenantID)
	printStatus("Technician", "%s", cfg.Identity.TechnicianID)
	printStatus("Remote", "%s", cfg.Remote.BaseURL)

	// Show sync state if the daemon is up.
	if running {
		client, err := newAPIClient()
		if err == nil {
			syncResp, err := client.get(ctx, "/sync/status")
			if err == nil {
				var status struct {
					State        string `json:"state"`
					LastSync     string `json:"last_sync"`
					LastError    string `json:"last_error"`
					PendingCount int    `json:"pending_count"`
				}
				if decodeJSON(syncResp, &status) == nil {
					printStatus("Sync", "%s", status.State)
					if status.LastSync != "" && !strings.HasPrefix(status.LastSync, "0001-") {
						printStatus("Last sync", "%s", status.LastSync)
					}
					if status.LastError != "" {
						printStatus("Last error", "%s", status.LastError)
					}
					printStatus("Queued mutations", "%d", status.PendingCount)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
