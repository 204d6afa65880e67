package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIELDSYNC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "remote.base_url", typ: kString, env: "FIELDSYNC_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.api_token", typ: kString, env: "FIELDSYNC_REMOTE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.APIToken },
	},
	{
		key: "identity.tenant_id", typ: kString, env: "FIELDSYNC_TENANT_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.TenantID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.TenantID },
	},
	{
		key: "identity.technician_id", typ: kString, env: "FIELDSYNC_TECHNICIAN_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.TechnicianID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.TechnicianID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIELDSYNC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.retention_age", typ: kString, env: "FIELDSYNC_STORAGE_RETENTION_AGE",
		apply:   func(cfg *Config, v any) { cfg.Storage.RetentionAge = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RetentionAge },
	},
	{
		key: "cache.max_bytes", typ: kInt, env: "FIELDSYNC_CACHE_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxBytes },
	},
	{
		key: "cache.default_ttl", typ: kString, env: "FIELDSYNC_CACHE_DEFAULT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.DefaultTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.DefaultTTL },
	},
	{
		key: "cache.prefetch_strategy", typ: kString, env: "FIELDSYNC_CACHE_PREFETCH_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Cache.PrefetchStrategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.PrefetchStrategy },
	},
	{
		key: "sync.auto", typ: kBool, env: "FIELDSYNC_SYNC_AUTO",
		apply:   func(cfg *Config, v any) { cfg.Sync.AutoSync = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.AutoSync },
	},
	{
		key: "sync.interval", typ: kString, env: "FIELDSYNC_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "log.level", typ: kString, env: "FIELDSYNC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
