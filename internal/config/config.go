package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration, loaded from environment
// variables. The .env file is loaded in main via godotenv for local runs.
type Config struct {
	Env string

	// Telegram surfaces
	BotToken       string
	BotAPIBaseURL  string
	SessionStrings []string // assistant accounts, comma-separated in env

	// Call bridge (external daemon owning the actual voice connections)
	BridgeURL string

	// Stores
	PostgresDSN   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Download pipeline
	DownloadsDir   string
	APIBaseURL     string // secondary hosted download API, optional
	APIKey         string
	CookiesDir     string
	ProxyURL       string
	DefaultService string // platform used for bare-text queries
	MaxFileSize    int64  // Telegram attachment cap, bytes
	MaxQueueSize   int

	// Reaper
	IdleSweepInterval time.Duration
	IdleGracePeriod   time.Duration
	MembershipSweepAt int // hour of day, 0-23
	AutoLeave         bool
}

// Load reads configuration from the environment and applies defaults.
func Load() *Config {
	return &Config{
		Env:            getEnvOrDefault("LOG_ENV", "development"),
		BotToken:       os.Getenv("BOT_TOKEN"),
		BotAPIBaseURL:  getEnvOrDefault("BOT_API_BASE_URL", "https://api.telegram.org"),
		SessionStrings: splitAndTrim(os.Getenv("SESSION_STRINGS")),

		BridgeURL: getEnvOrDefault("BRIDGE_URL", "ws://127.0.0.1:8732/updates"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisHost:     getEnvOrDefault("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		DownloadsDir:   getEnvOrDefault("DOWNLOADS_DIR", "database/music"),
		APIBaseURL:     strings.TrimSuffix(os.Getenv("API_URL"), "/"),
		APIKey:         os.Getenv("API_KEY"),
		CookiesDir:     getEnvOrDefault("COOKIES_DIR", "cookies"),
		ProxyURL:       os.Getenv("PROXY_URL"),
		DefaultService: getEnvOrDefault("DEFAULT_SERVICE", "youtube"),
		MaxFileSize:    getEnvAsInt64OrDefault("MAX_FILE_SIZE", 400*1024*1024),
		MaxQueueSize:   getEnvAsIntOrDefault("MAX_QUEUE_SIZE", 10),

		IdleSweepInterval: getEnvAsDurationOrDefault("IDLE_SWEEP_INTERVAL", 45*time.Second),
		IdleGracePeriod:   getEnvAsDurationOrDefault("IDLE_GRACE_PERIOD", 15*time.Second),
		MembershipSweepAt: getEnvAsIntOrDefault("MEMBERSHIP_SWEEP_HOUR", 3),
		AutoLeave:         getEnvAsBoolOrDefault("AUTO_LEAVE", true),
	}
}

// Validate checks the settings the process cannot run without.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if len(c.SessionStrings) == 0 {
		return fmt.Errorf("SESSION_STRINGS is required: configure at least one assistant session")
	}
	if err := os.MkdirAll(c.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("create downloads dir %s: %w", c.DownloadsDir, err)
	}
	return nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvAsInt64OrDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvAsBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
