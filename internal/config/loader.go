package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CROWDSIGNAL_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROWDSIGNAL_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults and
// environment alone are used. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROWDSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, EnvPrefix+"MODE")
	setStr(&cfg.LogLevel, EnvPrefix+"LOG_LEVEL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, EnvPrefix+"STORAGE_BACKEND")
	setStr(&cfg.Storage.MarketsKey, EnvPrefix+"STORAGE_MARKETS_KEY")
	setStr(&cfg.Storage.UserKey, EnvPrefix+"STORAGE_USER_KEY")
	setStr(&cfg.Storage.FilePath, EnvPrefix+"STORAGE_FILE_PATH")
	setStr(&cfg.Storage.SQLitePath, EnvPrefix+"STORAGE_SQLITE_PATH")
	setStr(&cfg.Storage.SeedQuestion, EnvPrefix+"STORAGE_SEED_QUESTION")
	setStr(&cfg.Storage.SeedCategory, EnvPrefix+"STORAGE_SEED_CATEGORY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, EnvPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, EnvPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, EnvPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, EnvPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, EnvPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, EnvPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, EnvPrefix+"POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, EnvPrefix+"POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, EnvPrefix+"POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, EnvPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, EnvPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, EnvPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, EnvPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, EnvPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, EnvPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, EnvPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, EnvPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, EnvPrefix+"REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, EnvPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, EnvPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, EnvPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, EnvPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, EnvPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, EnvPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, EnvPrefix+"S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, EnvPrefix+"ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, EnvPrefix+"ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, EnvPrefix+"ARCHIVE_PREFIX")
	setInt(&cfg.Archive.Keep, EnvPrefix+"ARCHIVE_KEEP")

	// ── Server ──
	setStr(&cfg.Server.Host, EnvPrefix+"SERVER_HOST")
	setInt(&cfg.Server.Port, EnvPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, EnvPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, EnvPrefix+"SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, EnvPrefix+"SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, EnvPrefix+"SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, EnvPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, EnvPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, EnvPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, EnvPrefix+"NOTIFY_EVENTS")
}

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
