package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COMPINDEX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COMPINDEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Index ──
	setStringSlice(&cfg.Index.Symbols, "COMPINDEX_INDEX_SYMBOLS")
	setDuration(&cfg.Index.Stale, "COMPINDEX_INDEX_STALE")
	setDuration(&cfg.Index.ProvisionalMax, "COMPINDEX_INDEX_PROVISIONAL_MAX")
	setInt(&cfg.Index.Depth, "COMPINDEX_INDEX_DEPTH")
	setStringSlice(&cfg.Index.BasePriority, "COMPINDEX_INDEX_BASE_PRIORITY")

	// ── Publish ──
	setInt(&cfg.Publish.QueueSize, "COMPINDEX_PUBLISH_QUEUE_SIZE")
	setBool(&cfg.Publish.DropOldest, "COMPINDEX_PUBLISH_DROP_OLDEST")
	setStr(&cfg.Publish.CollectorURL, "COMPINDEX_PUBLISH_COLLECTOR_URL")
	setStr(&cfg.Publish.ChannelPrefix, "COMPINDEX_PUBLISH_CHANNEL_PREFIX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COMPINDEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COMPINDEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COMPINDEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COMPINDEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COMPINDEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COMPINDEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COMPINDEX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COMPINDEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COMPINDEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COMPINDEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COMPINDEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COMPINDEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COMPINDEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COMPINDEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COMPINDEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COMPINDEX_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "COMPINDEX_REDIS_CACHE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "COMPINDEX_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COMPINDEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COMPINDEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "COMPINDEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COMPINDEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COMPINDEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COMPINDEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COMPINDEX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COMPINDEX_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COMPINDEX_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "COMPINDEX_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COMPINDEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COMPINDEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COMPINDEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "COMPINDEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "COMPINDEX_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COMPINDEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COMPINDEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COMPINDEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COMPINDEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COMPINDEX_MODE")
	setStr(&cfg.LogLevel, "COMPINDEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
