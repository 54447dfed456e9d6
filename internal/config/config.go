// Package config defines the top-level configuration for the composite index
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COMPINDEX_* environment variables.
type Config struct {
	Index     IndexConfig      `toml:"index"`
	Exchanges []ExchangeConfig `toml:"exchanges"`
	Publish   PublishConfig    `toml:"publish"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Archive   ArchiveConfig    `toml:"archive"`
	Server    ServerConfig     `toml:"server"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// IndexConfig holds the computation parameters for the composite index.
type IndexConfig struct {
	// Symbols is the set of instruments the service computes an index for.
	Symbols []string `toml:"symbols"`

	// Windows are the emission cadences, e.g. ["1s", "5s", "10s"]. One
	// evaluation loop runs per (symbol, window) pair.
	Windows []duration `toml:"windows"`

	// Stale is the freshness threshold: a snapshot whose local arrival time
	// is at least this old at evaluation time is excluded with reason
	// "stale".
	Stale duration `toml:"stale"`

	// ProvisionalMax bounds how long the last good value may be re-emitted
	// as provisional before the engine switches to no_publish.
	ProvisionalMax duration `toml:"provisional_max"`

	// Depth limits how many levels per side each exchange contributes to
	// the composite ladder. 0 means unlimited.
	Depth int `toml:"depth"`

	// BasePriority orders exchange names for base-price selection: the
	// first listed exchange with a usable price supplies the diff/ratio
	// sanity metric.
	BasePriority []string `toml:"base_priority"`
}

// ExchangeConfig describes one upstream exchange feed.
type ExchangeConfig struct {
	ID      int    `toml:"id"`
	Name    string `toml:"name"`
	WsURL   string `toml:"ws_url"`
	Enabled bool   `toml:"enabled"`
}

// PublishConfig holds the outbound delivery parameters.
type PublishConfig struct {
	// QueueSize bounds the publish queue depth per transport.
	QueueSize int `toml:"queue_size"`

	// DropOldest selects the overflow policy: evict the head (true) or
	// reject the new message (false).
	DropOldest bool `toml:"drop_oldest"`

	// CollectorURL is the optional remote WebSocket collector endpoint.
	// Leave empty to publish only to the signal bus.
	CollectorURL string `toml:"collector_url"`

	// ChannelPrefix prefixes the per-symbol bus channels, e.g. "index"
	// produces "index:BTC-USD".
	ChannelPrefix string `toml:"channel_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// CacheTTL bounds how long last-value cache entries live. 0 disables
	// expiry.
	CacheTTL duration `toml:"cache_ttl"`

	// StreamMaxLen caps the length of durable bus streams (XADD MAXLEN).
	StreamMaxLen int `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds the monitor HTTP and WebSocket server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey protects the API when set. Empty disables authentication.
	APIKey string `toml:"api_key"`

	// RateLimit caps requests per client per second. 0 disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "500ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Index: IndexConfig{
			Symbols: []string{"BTC-USD"},
			Windows: []duration{
				{1 * time.Second},
				{5 * time.Second},
				{10 * time.Second},
			},
			Stale:          duration{3 * time.Second},
			ProvisionalMax: duration{30 * time.Second},
			Depth:          15,
		},
		Publish: PublishConfig{
			QueueSize:     256,
			DropOldest:    true,
			ChannelPrefix: "index",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "compindex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "compindex-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"index_no_publish", "index_recovered", "feed_disconnected", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"index":   true,
	"monitor": true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, monitor, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Index
	if len(c.Index.Symbols) == 0 {
		errs = append(errs, "index: at least one symbol must be configured")
	}
	if len(c.Index.Windows) == 0 {
		errs = append(errs, "index: at least one window must be configured")
	}
	for i, w := range c.Index.Windows {
		if w.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("index: window %d must be positive, got %v", i, w.Duration))
		}
	}
	if c.Index.Stale.Duration <= 0 {
		errs = append(errs, "index: stale threshold must be positive")
	}
	if c.Index.ProvisionalMax.Duration <= 0 {
		errs = append(errs, "index: provisional_max must be positive")
	}
	if c.Index.Depth < 0 {
		errs = append(errs, "index: depth must be >= 0 (0 = unlimited)")
	}

	// Exchanges
	if countEnabled(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: at least one enabled exchange is required")
	}
	seenIDs := map[int]bool{}
	seenNames := map[string]bool{}
	for _, ex := range c.Exchanges {
		if ex.ID <= 0 {
			errs = append(errs, fmt.Sprintf("exchanges: %q must have a positive id", ex.Name))
		}
		if seenIDs[ex.ID] {
			errs = append(errs, fmt.Sprintf("exchanges: duplicate id %d", ex.ID))
		}
		seenIDs[ex.ID] = true
		if ex.Name == "" {
			errs = append(errs, fmt.Sprintf("exchanges: id %d must have a name", ex.ID))
		}
		if seenNames[ex.Name] {
			errs = append(errs, fmt.Sprintf("exchanges: duplicate name %q", ex.Name))
		}
		seenNames[ex.Name] = true
		if ex.Enabled && ex.WsURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges: %q is enabled but has no ws_url", ex.Name))
		}
	}
	for _, name := range c.Index.BasePriority {
		if !seenNames[name] {
			errs = append(errs, fmt.Sprintf("index: base_priority references unknown exchange %q", name))
		}
	}

	// Publish
	if c.Publish.QueueSize < 1 {
		errs = append(errs, "publish: queue_size must be >= 1")
	}
	if c.Publish.ChannelPrefix == "" {
		errs = append(errs, "publish: channel_prefix must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnabledExchanges returns the subset of configured exchanges with Enabled set.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// Durations unwraps the configured windows into plain time.Duration values.
func (ic IndexConfig) Durations() []time.Duration {
	out := make([]time.Duration, len(ic.Windows))
	for i, w := range ic.Windows {
		out[i] = w.Duration
	}
	return out
}

func countEnabled(exs []ExchangeConfig) int {
	n := 0
	for _, ex := range exs {
		if ex.Enabled {
			n++
		}
	}
	return n
}
