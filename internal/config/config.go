// Package config loads the service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted in ATENDECHAT_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

type Config struct {
	HTTPAddr string
	Store    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	ContextsDir   string

	// EncryptionKey seals stored contexts when set (base64, 32 bytes).
	EncryptionKey          string
	EncryptionFallbackKeys []string

	FlowsDir         string
	IntegrationsFile string

	FFmpegPath string
	MediaDir   string

	NatsURL string

	TypingDelay        time.Duration
	SendTimeout        time.Duration
	IntegrationTimeout time.Duration
	SchedulerPoll      time.Duration
	LockTTL            time.Duration
	Workers            int

	LogLevel string
}

// Load seeds the environment from the given .env files (default ".env"; missing
// files are ignored) and reads the configuration. Variables already set win.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	return Config{
		HTTPAddr:               envStr("ATENDECHAT_HTTP_ADDR", ":8080"),
		Store:                  envStr("ATENDECHAT_STORE", StoreMemory),
		RedisAddr:              envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          envStr("REDIS_PASSWORD", ""),
		RedisDB:                envInt("REDIS_DB", 0),
		SQLitePath:             envStr("ATENDECHAT_SQLITE_PATH", "atendechat.db"),
		ContextsDir:            envStr("ATENDECHAT_CONTEXTS_DIR", ".atendechat/contexts"),
		EncryptionKey:          envStr("ATENDECHAT_ENCRYPTION_KEY", ""),
		EncryptionFallbackKeys: envList("ATENDECHAT_ENCRYPTION_FALLBACK_KEYS"),
		FlowsDir:               envStr("ATENDECHAT_FLOWS_DIR", "flows"),
		IntegrationsFile:       envStr("ATENDECHAT_INTEGRATIONS_FILE", "integrations.yaml"),
		FFmpegPath:             envStr("FFMPEG_PATH", "ffmpeg"),
		MediaDir:               envStr("ATENDECHAT_MEDIA_DIR", os.TempDir()),
		NatsURL:                envStr("NATS_URL", ""),
		TypingDelay:            envMillis("ATENDECHAT_TYPING_DELAY_MS", 0),
		SendTimeout:            envMillis("ATENDECHAT_SEND_TIMEOUT_MS", 15000),
		IntegrationTimeout:     envMillis("ATENDECHAT_INTEGRATION_TIMEOUT_MS", 10000),
		SchedulerPoll:          envMillis("ATENDECHAT_SCHEDULER_POLL_MS", 1000),
		LockTTL:                envMillis("ATENDECHAT_LOCK_TTL_MS", 30000),
		Workers:                envInt("ATENDECHAT_WORKERS", 8),
		LogLevel:               envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
