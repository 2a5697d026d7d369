package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HARVEST_PORT", "HARVEST_MAX_JOB_LOGS", "HARVEST_HTTP_TIMEOUT", "HARVEST_ARCHIVE_URL", "HARVEST_WIPE_ARCHIVE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "0.0.0.0:3001", cfg.Addr())
	assert.Equal(t, 30, cfg.MaxStoredJobs)
	assert.Equal(t, 400, cfg.MaxJobLogs)
	assert.Equal(t, 4, cfg.MaxServiceTypes)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2*time.Second, cfg.DirectoryDelay)
	assert.Empty(t, cfg.ArchiveURL)
	assert.False(t, cfg.WipeArchive)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HARVEST_PORT", "8080")
	t.Setenv("HARVEST_MAX_STORED_JOBS", "5")
	t.Setenv("HARVEST_MAX_JOB_LOGS", "not-a-number")
	t.Setenv("HARVEST_HTTP_TIMEOUT", "1500")
	t.Setenv("HARVEST_DIRECTORY_DELAY", "250ms")
	t.Setenv("HARVEST_LOG_LEVEL", "debug")
	t.Setenv("HARVEST_ARCHIVE_URL", "ws://db:8000/rpc")
	t.Setenv("HARVEST_WIPE_ARCHIVE", "true")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.MaxStoredJobs)
	assert.Equal(t, 400, cfg.MaxJobLogs, "malformed values keep the default")
	assert.Equal(t, 1500*time.Millisecond, cfg.HTTPTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.DirectoryDelay)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "ws://db:8000/rpc", cfg.ArchiveURL)
	assert.True(t, cfg.WipeArchive)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"true", true},
		{"1", true},
		{"FALSE", false},
		{"yes", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("HARVEST_TEST_BOOL", tt.val)
			assert.Equal(t, tt.want, getEnvBool("HARVEST_TEST_BOOL", false))
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters("harvest-server", &stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job queued", "job_id", "abc12345")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "job_id=abc12345")
	assert.Contains(t, stderr.String(), "service=harvest-server")
	assert.Contains(t, file.String(), `"job_id":"abc12345"`)
	assert.Contains(t, file.String(), `"service":"harvest-server"`)
}

func TestSetupLoggerFallsBackToStderr(t *testing.T) {
	logger, cleanup := SetupLogger("harvest-server", filepath.Join(t.TempDir(), "missing", "dir", "x.log"), slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	logger, cleanup := SetupLogger("harvest-server", path, slog.LevelInfo)
	logger.Info("started", "port", "3001")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"started"`)
}

func TestSetupLoggerWithoutFile(t *testing.T) {
	logger, cleanup := SetupLogger("harvest", "", slog.LevelWarn)
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.NoError(t, cleanup())
}
