package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	CORSOrigin    string
	// Redis holds the shared project documents; empty runs the
	// in-process store.
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	// Blob storage - uploads disabled if MinioEndpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AppURL       string
	// NotifyRecipients receive an email when a card is scheduled.
	NotifyRecipients []string
	// Engine timings
	DesktopCapacity int
	MobileCapacity  int
	InFlightTTL     time.Duration
	Debounce        time.Duration
	MaxWait         time.Duration
	BatchWindow     time.Duration
	MaxAttempts     int
	BaseBackoff     time.Duration
	LogLevel        string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8787"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("CADENCE_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:    getenv("CADENCE_CORS_ORIGIN", "*"),
		RedisURL:      getenv("REDIS_URL", "redis://localhost:6379/0"),
		// Meilisearch - local matching only if unset
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "cadence-meili-key"),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "cadence-media"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		MinioPublicURL: getenv("MINIO_PUBLIC_URL", ""),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Cadence"),
		AppURL:       getenv("CADENCE_APP_URL", "http://localhost:5173"),

		NotifyRecipients: getenvList("CADENCE_NOTIFY_RECIPIENTS"),

		DesktopCapacity: getenvInt("CADENCE_DESKTOP_CAPACITY", 3),
		MobileCapacity:  getenvInt("CADENCE_MOBILE_CAPACITY", 4),
		InFlightTTL:     getenvMillis("CADENCE_INFLIGHT_TTL_MS", 500),
		Debounce:        getenvMillis("CADENCE_DEBOUNCE_MS", 200),
		MaxWait:         getenvMillis("CADENCE_DEBOUNCE_MAX_WAIT_MS", 1000),
		BatchWindow:     getenvMillis("CADENCE_BATCH_WINDOW_MS", 0),
		MaxAttempts:     getenvInt("CADENCE_WRITE_ATTEMPTS", 3),
		BaseBackoff:     getenvMillis("CADENCE_WRITE_BACKOFF_MS", 200),
		LogLevel:        getenv("CADENCE_LOG_LEVEL", "info"),
	}
}

// Logger builds the engine logger: text to stderr at LogLevel.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvMillis(key string, fallback int) time.Duration {
	return time.Duration(getenvInt(key, fallback)) * time.Millisecond
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
