// Package config loads process configuration from the environment and the
// optional tuning file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// HTTP service
	Host string
	Port string

	// Job manager limits
	MaxStoredJobs   int
	MaxJobLogs      int
	MaxServiceTypes int

	// Upstream fetching
	HTTPTimeout    time.Duration
	UserAgent      string
	DirectoryDelay time.Duration
	TuningFile     string

	// SurrealDB archive; an empty URL disables it
	ArchiveURL       string
	ArchiveNamespace string
	ArchiveDatabase  string
	ArchiveUser      string
	ArchivePass      string
	ArchiveAuthLevel string
	// WipeArchive empties the archive on startup; for test deployments only.
	WipeArchive bool

	// Logging
	LogFile  string
	LogLevel slog.Level

	// CLI target
	ServerURL string
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory when one exists.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		Host: getEnv("HARVEST_HOST", "0.0.0.0"),
		Port: getEnv("HARVEST_PORT", "3001"),

		MaxStoredJobs:   getEnvInt("HARVEST_MAX_STORED_JOBS", 30),
		MaxJobLogs:      getEnvInt("HARVEST_MAX_JOB_LOGS", 400),
		MaxServiceTypes: getEnvInt("HARVEST_MAX_SERVICE_TYPES", 4),

		HTTPTimeout:    getEnvDuration("HARVEST_HTTP_TIMEOUT", 45*time.Second),
		UserAgent:      getEnv("HARVEST_USER_AGENT", ""),
		DirectoryDelay: getEnvDuration("HARVEST_DIRECTORY_DELAY", 2*time.Second),
		TuningFile:     getEnv("HARVEST_TUNING_FILE", ""),

		ArchiveURL:       getEnv("HARVEST_ARCHIVE_URL", ""),
		ArchiveNamespace: getEnv("HARVEST_ARCHIVE_NAMESPACE", "kaigo"),
		ArchiveDatabase:  getEnv("HARVEST_ARCHIVE_DATABASE", "harvest"),
		ArchiveUser:      getEnv("HARVEST_ARCHIVE_USER", "root"),
		ArchivePass:      getEnv("HARVEST_ARCHIVE_PASS", "root"),
		ArchiveAuthLevel: getEnv("HARVEST_ARCHIVE_AUTH_LEVEL", "root"),
		WipeArchive:      getEnvBool("HARVEST_WIPE_ARCHIVE", false),

		LogFile:  getEnv("HARVEST_LOG_FILE", "/tmp/kaigo-harvest.log"),
		LogLevel: parseLogLevel(getEnv("HARVEST_LOG_LEVEL", "INFO")),

		ServerURL: getEnv("HARVEST_SERVER_URL", "http://localhost:3001"),
	}
}

// Addr is the listen address of the HTTP service.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
