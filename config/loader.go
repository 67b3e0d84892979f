package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cli)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix starts every supported environment variable.
const EnvPrefix = "NETREACTOR_"

// LoadFromEnv overlays environment variables onto cfg. Only non-empty,
// parseable values override. Booleans accept "1", "true" and "yes"
// (case-insensitive); durations use time.ParseDuration syntax.
func LoadFromEnv(cfg *Config) {
	if v := env("PROTOCOL"); v != "" {
		cfg.Protocol = strings.ToLower(v)
	}
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envInt("BACKLOG"); ok {
		cfg.Backlog = v
	}

	// Reactor
	if v := env("POLLER"); v != "" {
		cfg.Poller = strings.ToLower(v)
	}
	if v, ok := envInt("READ_CHUNK"); ok {
		cfg.ReadChunk = v
	}
	if v, ok := envInt("MAX_BUFFER"); ok {
		cfg.MaxBuffer = v
	}

	// Framing
	if v, ok := envInt("MAX_FRAME"); ok {
		cfg.MaxFrame = v
	}
	if envBool("COMPRESS") {
		cfg.Compress = true
	}
	if v := env("SERIALIZER"); v != "" {
		cfg.Serializer = strings.ToLower(v)
	}
	if v := env("BANNER"); v != "" {
		cfg.Banner = v
	}

	// Logging
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	// Redis
	if v := env("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := env("REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}

	// Caches
	if v, ok := envInt("HISTORY_SIZE"); ok {
		cfg.HistorySize = v
	}
	if v, ok := envDuration("HISTORY_TTL"); ok {
		cfg.HistoryTTL = v
	}
	if v, ok := envDuration("CONTEXT_TTL"); ok {
		cfg.ContextTTL = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func envInt(key string) (int, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
