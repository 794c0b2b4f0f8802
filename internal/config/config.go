package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Store        StoreConfig
	Auth         AuthConfig
	Analytics    AnalyticsConfig
	Integrations IntegrationsConfig
	RateLimit    RateLimitConfig
	Log          LogConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	CORSOrigins  []string
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// StoreConfig selects the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string
}

// AuthConfig controls Clerk session verification and legacy-role handling.
type AuthConfig struct {
	SessionPublicKey string
	SessionSecret    string
	Issuer           string
	// LegacyFallback keeps organization_memberships.role super_admin as an
	// organization-wide grant. Turn off once the legacy column is retired.
	LegacyFallback bool
}

type AnalyticsConfig struct {
	Capacity          int
	Retention         time.Duration
	RetentionSchedule string
	VersionLine       string
	CurrentPatch      int
	OutdatedPatch     int
}

type IntegrationsConfig struct {
	TokenKey      string
	Workers       int
	QueueSize     int
	NotionBaseURL string
}

type RateLimitConfig struct {
	Burst     int
	PerSecond int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load resolves configuration from defaults, an optional .env file, an
// optional zashboard.{yaml,toml} and ZASH_* environment variables, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("zashboard")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zashboard/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
			CORSOrigins:  splitList(v.GetString("server.cors_origins")),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
		},
		Auth: AuthConfig{
			SessionPublicKey: v.GetString("auth.session_public_key"),
			SessionSecret:    v.GetString("auth.session_secret"),
			Issuer:           v.GetString("auth.issuer"),
			LegacyFallback:   v.GetBool("auth.legacy_fallback"),
		},
		Analytics: AnalyticsConfig{
			Capacity:          v.GetInt("analytics.capacity"),
			Retention:         v.GetDuration("analytics.retention"),
			RetentionSchedule: v.GetString("analytics.retention_schedule"),
			VersionLine:       v.GetString("analytics.version_line"),
			CurrentPatch:      v.GetInt("analytics.current_patch"),
			OutdatedPatch:     v.GetInt("analytics.outdated_patch"),
		},
		Integrations: IntegrationsConfig{
			TokenKey:      v.GetString("integrations.token_key"),
			Workers:       v.GetInt("integrations.workers"),
			QueueSize:     v.GetInt("integrations.queue_size"),
			NotionBaseURL: v.GetString("integrations.notion_base_url"),
		},
		RateLimit: RateLimitConfig{
			Burst:     v.GetInt("ratelimit.burst"),
			PerSecond: v.GetInt("ratelimit.per_second"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database.dsn is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if c.Analytics.Capacity <= 0 {
		return fmt.Errorf("config: analytics.capacity must be positive, got %d", c.Analytics.Capacity)
	}
	if c.Analytics.OutdatedPatch > c.Analytics.CurrentPatch {
		return errors.New("config: analytics.outdated_patch must not exceed analytics.current_patch")
	}
	if c.Integrations.Workers <= 0 {
		return errors.New("config: integrations.workers must be positive")
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		return errors.New("config: ratelimit.burst and ratelimit.per_second must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", "http://localhost:3000")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("auth.session_public_key", "")
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.legacy_fallback", true)

	v.SetDefault("analytics.capacity", 10000)
	v.SetDefault("analytics.retention", 30*24*time.Hour)
	v.SetDefault("analytics.retention_schedule", "0 * * * *")
	v.SetDefault("analytics.version_line", "1.3")
	v.SetDefault("analytics.current_patch", 5)
	v.SetDefault("analytics.outdated_patch", 2)

	v.SetDefault("integrations.token_key", "")
	v.SetDefault("integrations.workers", 2)
	v.SetDefault("integrations.queue_size", 16)
	v.SetDefault("integrations.notion_base_url", "https://api.notion.com")

	v.SetDefault("ratelimit.burst", 60)
	v.SetDefault("ratelimit.per_second", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// NewViper returns a viper instance carrying only the defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
