package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kaigo-harvest/internal/harvest"
	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/server"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

func TestMain(m *testing.M) {
	pollInterval = 10 * time.Millisecond
	os.Exit(m.Run())
}

type stubHarvester struct{}

func (stubHarvester) Run(_ context.Context, method models.Method, _ source.Request, rep *progress.Reporter) (harvest.Result, error) {
	if method == models.MethodWeb {
		return harvest.Result{}, errors.New("directory unavailable")
	}
	rep.Report(progress.PhaseDownload, "downloading", 50)
	return harvest.Result{
		Records: []models.FacilityRecord{
			{Region: "東京都", RegistryNumber: "1370000001", Name: "さくら苑", Sources: "mhlw.go.jp"},
			{Region: "東京都", RegistryNumber: "1370000002", Name: "ひまわり", Sources: "mhlw.go.jp"},
		},
		SourceStats: []models.SourceStat{{Source: "mhlw.go.jp", Count: 2, Status: models.SourceOK}},
	}, nil
}

func newServer(t *testing.T) string {
	t.Helper()
	hub := progress.NewHub(64)
	jobs := service.NewJobManager(stubHarvester{}, service.Options{Hub: hub})
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(jobs, hub, metrics.NewRecorder(nil), logger, server.Options{KeepAlive: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		jobs.Wait()
	})
	return ts.URL
}

// run executes the CLI against url and returns everything it printed.
func run(t *testing.T, url, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// submitAndWait queues a Tokyo home-care job, follows it and returns its id.
func submitAndWait(t *testing.T, url string) string {
	t.Helper()
	out, err := run(t, url, "", "submit", "--pref", "13", "--service", "houmon_kaigo", "--wait")
	require.NoError(t, err, out)
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2)
	require.Equal(t, "Job", fields[0])
	return fields[1]
}

func TestSubmitWait(t *testing.T) {
	url := newServer(t)

	out, err := run(t, url, "", "submit", "-p", "13", "-s", "houmon_kaigo", "--wait", "--plain")
	require.NoError(t, err, out)
	assert.Contains(t, out, "queued (position")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Records:        2")
	assert.Contains(t, out, "mhlw.go.jp")
}

func TestSubmitWithoutWait(t *testing.T) {
	url := newServer(t)

	out, err := run(t, url, "", "submit", "-p", "13", "-s", "houmon_kaigo")
	require.NoError(t, err)
	assert.Contains(t, out, "harvest watch")
}

func TestSubmitFailures(t *testing.T) {
	url := newServer(t)

	t.Run("missing flags", func(t *testing.T) {
		_, err := run(t, url, "", "submit", "--service", "houmon_kaigo")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pref")
	})

	t.Run("rejected by server", func(t *testing.T) {
		_, err := run(t, url, "", "submit", "-m", "ftp", "-p", "13", "-s", "houmon_kaigo")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("job fails", func(t *testing.T) {
		out, err := run(t, url, "", "submit", "-m", "web", "-p", "13", "-s", "houmon_kaigo", "--wait")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "directory unavailable")
		assert.Contains(t, out, "failed")
	})
}

func TestJobsAndResult(t *testing.T) {
	url := newServer(t)
	id := submitAndWait(t, url)

	out, err := run(t, url, "", "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "completed")

	out, err = run(t, url, "", "jobs", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "Records: 2 (dataset 2)")
	assert.Contains(t, out, "[complete]")

	out, err = run(t, url, "", "result", id, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 records")
	assert.Contains(t, out, "さくら苑")
	assert.NotContains(t, out, "ひまわり")
	assert.Contains(t, out, "Showing 1 of 2")

	_, err = run(t, url, "", "jobs", "missing")
	assert.Error(t, err)
}

func TestData(t *testing.T) {
	url := newServer(t)

	out, err := run(t, url, "", "data")
	require.NoError(t, err)
	assert.Contains(t, out, "No records")

	id := submitAndWait(t, url)

	out, err = run(t, url, "", "data", "--search", "ひまわり")
	require.NoError(t, err)
	assert.Contains(t, out, "ひまわり")
	assert.NotContains(t, out, "さくら苑")
	assert.Contains(t, out, "Page 1/1 (1 records)")

	out, err = run(t, url, "", "data", "--job", id, "--limit", "1", "--page", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Page 2/2 (2 records)")
}

func TestExport(t *testing.T) {
	url := newServer(t)
	submitAndWait(t, url)
	dir := t.TempDir()

	path := filepath.Join(dir, "out.csv")
	out, err := run(t, url, "", "export", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\uFEFF"))
	assert.Contains(t, string(data), "\"さくら苑\"")

	out, err = run(t, url, "", "export", "-f", "csv", "-o", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "\"ひまわり\"")

	_, err = run(t, url, "", "export", "-f", "pdf", "-o", filepath.Join(dir, "x"))
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	url := newServer(t)
	submitAndWait(t, url)

	out, err := run(t, url, "n\n", "delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	out, err = run(t, url, "", "data")
	require.NoError(t, err)
	assert.Contains(t, out, "さくら苑")

	out, err = run(t, url, "y\n", "delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted the current dataset")

	out, err = run(t, url, "", "data")
	require.NoError(t, err)
	assert.Contains(t, out, "No records")

	_, err = run(t, url, "", "delete", "--job", "missing", "--force")
	assert.Error(t, err)
}

func TestReferenceCommands(t *testing.T) {
	url := newServer(t)

	out, err := run(t, url, "", "prefectures", "--region", "関東")
	require.NoError(t, err)
	assert.Contains(t, out, "東京都")
	assert.NotContains(t, out, "大阪府")

	out, err = run(t, url, "", "services")
	require.NoError(t, err)
	assert.Contains(t, out, "houmon_kaigo")
	assert.Contains(t, out, "訪問介護")
}

func TestWatchFinishedJob(t *testing.T) {
	url := newServer(t)
	id := submitAndWait(t, url)

	out, err := run(t, url, "", "watch", id)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Job "+id+" completed")

	_, err = run(t, url, "", "watch", "missing")
	assert.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	msg := progress.Message{
		Phase:    progress.PhaseDownload,
		Message:  "downloading",
		Progress: 5,
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local),
	}
	assert.Equal(t, "03:04:05 [download]   5% downloading", formatMessage(msg))
}
