package config

import (
	"fmt"
)

type Config struct {
	Server   ServerConfig
	Remote   RemoteConfig
	Identity IdentityConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Sync     SyncConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type RemoteConfig struct {
	BaseURL  string
	APIToken string
}

// IdentityConfig scopes all local data and sync traffic.
type IdentityConfig struct {
	TenantID     string
	TechnicianID string
}

type StorageConfig struct {
	DataDir      string
	RetentionAge string // duration string; completed/cancelled orders older than this are cleaned up
}

type CacheConfig struct {
	MaxBytes         int
	DefaultTTL       string // duration string, e.g. "5m"
	PrefetchStrategy string // "minimal", "conservative", "aggressive"
}

type SyncConfig struct {
	AutoSync bool
	Interval string // duration string, e.g. "30s"
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Remote: RemoteConfig{
			BaseURL: "https://platform.example.com",
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			RetentionAge: "720h",
		},
		Cache: CacheConfig{
			MaxBytes:         50 << 20,
			DefaultTTL:       "5m",
			PrefetchStrategy: "conservative",
		},
		Sync: SyncConfig{
			AutoSync: true,
			Interval: "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/fieldsync/config.json, then applies FIELDSYNC_*
// environment variable overrides. The platform API token is a secret and
// can only be provided via FIELDSYNC_REMOTE_API_TOKEN.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Remote.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: platform API token. " +
			"Set it via environment variable FIELDSYNC_REMOTE_API_TOKEN")
	}
	if cfg.Identity.TenantID == "" {
		return Config{}, fmt.Errorf("missing required config: tenant id. " +
			"Set identity.tenant_id via `fieldsync config set` or FIELDSYNC_TENANT_ID")
	}

	return cfg, nil
}
