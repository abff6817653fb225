// Package config loads the immutable runtime configuration: environment
// variables first, an optional yaml file second, validated fail-fast before
// any component starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration. Loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Environment string
	Port        string
	LogLevel    string

	// Backend selects the storage implementation: "local" or "remote".
	Backend string

	// Local backend.
	LocalBaseDir string

	// Remote backend.
	RemoteEndpoint string
	RemoteKeyID    string
	RemoteKey      string
	RemoteBucket   string
	RemotePrefix   string
	RemotePartSize int64

	// Gateway.
	JWTSecret       string
	RateLimitPerMin int

	// Maintenance.
	SweepSchedule string
	SweepMaxAge   time.Duration
}

// LoadConfig reads configuration from the environment (FILESTORE_ prefix)
// and an optional config.yaml in the working directory or /etc/file-store.
// Missing or invalid required settings fail immediately.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/file-store")
	if err := v.ReadInConfig(); err != nil {
		// The file is optional; anything else is a real failure.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetDefault("environment", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("backend", "local")
	v.SetDefault("local.base_dir", "/var/lib/file-store/data")
	v.SetDefault("remote.part_size", 0)
	v.SetDefault("rate_limit_per_min", 120)
	v.SetDefault("sweep.schedule", "0 3 * * *")
	v.SetDefault("sweep.max_age", 24*time.Hour)

	cfg := &Config{
		Environment:     v.GetString("environment"),
		Port:            v.GetString("port"),
		LogLevel:        v.GetString("log_level"),
		Backend:         strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		LocalBaseDir:    v.GetString("local.base_dir"),
		RemoteEndpoint:  v.GetString("remote.endpoint"),
		RemoteKeyID:     v.GetString("remote.key_id"),
		RemoteKey:       v.GetString("remote.key"),
		RemoteBucket:    v.GetString("remote.bucket"),
		RemotePrefix:    v.GetString("remote.prefix"),
		RemotePartSize:  v.GetInt64("remote.part_size"),
		JWTSecret:       v.GetString("jwt_secret"),
		RateLimitPerMin: v.GetInt("rate_limit_per_min"),
		SweepSchedule:   v.GetString("sweep.schedule"),
		SweepMaxAge:     v.GetDuration("sweep.max_age"),
	}

	if secretFile := v.GetString("jwt_secret_file"); cfg.JWTSecret == "" && secretFile != "" {
		secret, err := readSecretFromFile(secretFile)
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
	}
	if keyFile := v.GetString("remote.key_file"); cfg.RemoteKey == "" && keyFile != "" {
		key, err := readSecretFromFile(keyFile)
		if err != nil {
			return nil, err
		}
		cfg.RemoteKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "local":
		if strings.TrimSpace(c.LocalBaseDir) == "" {
			return fmt.Errorf("CRITICAL: FILESTORE_LOCAL_BASE_DIR is required for the local backend")
		}
	case "remote":
		if strings.TrimSpace(c.RemoteEndpoint) == "" {
			return fmt.Errorf("CRITICAL: FILESTORE_REMOTE_ENDPOINT is required for the remote backend")
		}
		if strings.TrimSpace(c.RemoteKeyID) == "" || strings.TrimSpace(c.RemoteKey) == "" {
			return fmt.Errorf("CRITICAL: FILESTORE_REMOTE_KEY_ID and FILESTORE_REMOTE_KEY are required for the remote backend")
		}
		if strings.TrimSpace(c.RemoteBucket) == "" {
			return fmt.Errorf("CRITICAL: FILESTORE_REMOTE_BUCKET is required for the remote backend")
		}
	default:
		return fmt.Errorf("CRITICAL: unknown backend %q (want local or remote)", c.Backend)
	}

	if err := ValidateJWTSecret(c.JWTSecret); err != nil {
		return err
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("rate limit must be positive (got %d)", c.RateLimitPerMin)
	}
	return nil
}
