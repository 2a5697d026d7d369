package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpFetch, 10*time.Millisecond, false)
	c.RecordTiming(OpFetch, 30*time.Millisecond, true)

	snap := c.Snapshot()
	require.NotNil(t, snap.Fetch)
	assert.EqualValues(t, 2, snap.Fetch.Count)
	assert.EqualValues(t, 1, snap.Fetch.Failures)
	assert.EqualValues(t, 10, snap.Fetch.MinTimeMs)
	assert.EqualValues(t, 30, snap.Fetch.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Fetch.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Job)
	assert.Empty(t, snap.Sources)
}

func TestCollectorSources(t *testing.T) {
	c := NewCollector()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	c.RecordSource("wam.go.jp", "ok", 10)
	c.RecordSource("official-opendata", "ok", 40)
	c.RecordSource("wam.go.jp", "error", 0)

	snap := c.Snapshot()
	require.Len(t, snap.Sources, 2)
	assert.Equal(t, "official-opendata", snap.Sources[0].Source)

	wam := snap.Sources[1]
	assert.EqualValues(t, 2, wam.Runs)
	assert.EqualValues(t, 1, wam.Errors)
	assert.EqualValues(t, 10, wam.Records)
	assert.Equal(t, "error", wam.LastState)
	assert.Equal(t, at, wam.LastRunAt)
}

func TestRecorderExposesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.ObserveFetch("ok", time.Millisecond)
	r.ObserveSource("official-opendata", "ok", 42, time.Second)
	r.ObserveJob("multi", "completed", 3*time.Second)
	r.ObserveArchive(time.Millisecond, errors.New("down"))
	r.SetQueueDepth(2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, `harvest_fetch_requests_total{outcome="ok"} 1`))
	assert.True(t, strings.Contains(text, `harvest_source_records_total{source="official-opendata",status="ok"} 42`))
	assert.True(t, strings.Contains(text, `harvest_jobs_total{method="multi",status="completed"} 1`))
	assert.True(t, strings.Contains(text, "harvest_queue_depth 2"))

	snap := r.Collector().Snapshot()
	require.NotNil(t, snap.Archive)
	assert.EqualValues(t, 1, snap.Archive.Failures)
	require.Len(t, snap.Sources, 1)
	assert.EqualValues(t, 42, snap.Sources[0].Records)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveFetch("ok", time.Second)
		r.ObserveJob("web", "failed", time.Second)
		r.SetQueueDepth(1)
	})
	assert.Nil(t, r.Collector())
}
