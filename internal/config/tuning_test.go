package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuning(t *testing.T) {
	tu := DefaultTuning()
	assert.Equal(t, 250, tu.Coverage.MinRecords)
	assert.Equal(t, 12, tu.Coverage.PerCell)
	assert.InDelta(t, 0.20, tu.Coverage.MinUserCountRatio, 1e-9)
	assert.Equal(t, 3, tu.Fetch.MaxAttempts)
	assert.Equal(t, 1200*time.Millisecond, tu.Fetch.Backoff)
	assert.Equal(t, 2, tu.Fetch.FollowDepth)
	assert.Equal(t, 60, tu.OpenData.PackagesPerQuery)
	assert.Equal(t, 200, tu.Directory.MaxPages)
}

func TestTuningOverlay(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, tu Tuning)
	}{
		{
			name: "partial override keeps other defaults",
			yaml: "coverage:\n  min_records: 100\n",
			check: func(t *testing.T, tu Tuning) {
				assert.Equal(t, 100, tu.Coverage.MinRecords)
				assert.Equal(t, 12, tu.Coverage.PerCell)
				assert.Equal(t, 3, tu.Fetch.MaxAttempts)
			},
		},
		{
			name: "weakly typed scalars",
			yaml: "coverage:\n  min_user_count_ratio: \"0.25\"\n  per_cell: \"20\"\n",
			check: func(t *testing.T, tu Tuning) {
				assert.InDelta(t, 0.25, tu.Coverage.MinUserCountRatio, 1e-9)
				assert.Equal(t, 20, tu.Coverage.PerCell)
			},
		},
		{
			name: "durations",
			yaml: "fetch:\n  backoff: 1.5s\n  rate_limit_delay: 500ms\n",
			check: func(t *testing.T, tu Tuning) {
				assert.Equal(t, 1500*time.Millisecond, tu.Fetch.Backoff)
				assert.Equal(t, 500*time.Millisecond, tu.Fetch.RateLimitDelay)
			},
		},
		{
			name: "endpoints",
			yaml: "directory:\n  base_url: http://localhost:9999\ncatalog:\n  index_url: http://localhost:9998/index.html\n",
			check: func(t *testing.T, tu Tuning) {
				assert.Equal(t, "http://localhost:9999", tu.Directory.BaseURL)
				assert.Equal(t, "http://localhost:9998/index.html", tu.Catalog.IndexURL)
				assert.Equal(t, 50, tu.Directory.PageSize)
			},
		},
		{
			name: "empty document",
			yaml: "",
			check: func(t *testing.T, tu Tuning) {
				assert.Equal(t, DefaultTuning(), tu)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := DefaultTuning()
			require.NoError(t, tu.Overlay([]byte(tt.yaml)))
			tt.check(t, tu)
		})
	}
}

func TestTuningOverlayErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "coverage: [\n"},
		{"unknown key", "coverage:\n  min_recs: 1\n"},
		{"bad number", "coverage:\n  per_cell: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := DefaultTuning()
			assert.Error(t, tu.Overlay([]byte(tt.yaml)))
		})
	}
}

func TestLoadTuning(t *testing.T) {
	tu, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), tu)

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("opendata:\n  downloads_per_service: 2\n"), 0o644))
	tu, err = LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tu.OpenData.DownloadsPerService)

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
