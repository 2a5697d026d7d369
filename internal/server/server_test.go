package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kaigo-harvest/internal/harvest"
	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

// stubHarvester succeeds with three records for every method except web, which fails.
type stubHarvester struct{}

func (stubHarvester) Run(_ context.Context, method models.Method, _ source.Request, rep *progress.Reporter) (harvest.Result, error) {
	if method == models.MethodWeb {
		return harvest.Result{}, errors.New("directory unavailable")
	}
	rep.Report(progress.PhaseDownload, "downloading", 50)
	return harvest.Result{Records: []models.FacilityRecord{
		{Region: "東京都", RegistryNumber: "1370000001", Name: "さくら苑", Sources: "mhlw.go.jp"},
		{Region: "東京都", RegistryNumber: "1370000002", Name: "ひまわり", Sources: "mhlw.go.jp"},
		{Region: "東京都", RegistryNumber: "1370000003", Name: "あおば", Sources: "mhlw.go.jp"},
	}}, nil
}

type testEnv struct {
	srv  *httptest.Server
	jobs *service.JobManager
	hub  *progress.Hub
}

func newEnv(t *testing.T, started bool) *testEnv {
	t.Helper()
	hub := progress.NewHub(64)
	jobs := service.NewJobManager(stubHarvester{}, service.Options{Hub: hub})
	if started {
		ctx, cancel := context.WithCancel(context.Background())
		jobs.Start(ctx)
		t.Cleanup(func() {
			cancel()
			jobs.Wait()
		})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(jobs, hub, metrics.NewRecorder(nil), logger, Options{KeepAlive: time.Hour})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, jobs: jobs, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

const validJob = `{"prefectureCodes":["13"],"serviceTypeIds":["houmon_kaigo"]}`

func (e *testEnv) submit(t *testing.T, path string) service.Submitted {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, path, validJob)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	return decode[service.Submitted](t, data)
}

func (e *testEnv) waitFinished(t *testing.T, id string) service.JobStatus {
	t.Helper()
	var st service.JobStatus
	require.Eventually(t, func() bool {
		_, data := e.do(t, http.MethodGet, "/api/jobs/"+id, "")
		st = decode[service.JobStatus](t, data)
		return st.Status.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestSubmitValidationErrors(t *testing.T) {
	e := newEnv(t, false)

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"bad json", "/api/jobs", `{`, "invalid JSON body"},
		{"no prefectures", "/api/jobs", `{"serviceTypeIds":["houmon_kaigo"]}`, "都道府県を選択してください。"},
		{"no services", "/api/jobs", `{"prefectureCodes":["13"]}`, "サービス種別を選択してください。"},
		{"unknown method in path", "/api/scrape/ftp", validJob, "method は multi / opendata / web のいずれかを指定してください。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := e.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode[map[string]string](t, data)["error"], tt.want)
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	e := newEnv(t, true)

	sub := e.submit(t, "/api/scrape/opendata")
	assert.True(t, sub.Accepted)
	assert.Equal(t, "/api/jobs/"+sub.JobID, sub.PollURL)

	st := e.waitFinished(t, sub.JobID)
	assert.Equal(t, models.JobCompleted, st.Status)
	assert.Equal(t, models.MethodOpendata, st.Method)
	assert.True(t, st.HasResult)
	assert.Equal(t, 3, st.Total)

	resp, data := e.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/result", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[service.JobResult](t, data)
	assert.True(t, res.Success)
	assert.Len(t, res.Data, 3)

	resp, data = e.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"?after=2&maxLogs=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decode[service.JobStatus](t, data)
	require.Len(t, st.Logs, 1)
	assert.Equal(t, st.LastLogSeq, st.Logs[0].Seq)

	resp, data = e.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]service.JobStatus](t, data)
	assert.Len(t, list["jobs"], 1)
}

func TestJobResultStates(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		e := newEnv(t, false)
		sub := e.submit(t, "/api/jobs")
		resp, data := e.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/result", "")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		body := decode[map[string]any](t, data)
		assert.Equal(t, "queued", body["status"])
		assert.NotNil(t, body["progress"])
	})

	t.Run("failed", func(t *testing.T) {
		e := newEnv(t, true)
		sub := e.submit(t, "/api/scrape/web")
		e.waitFinished(t, sub.JobID)
		resp, data := e.do(t, http.MethodGet, "/api/jobs/"+sub.JobID+"/result", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode[map[string]any](t, data)
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, "directory unavailable", body["error"])
	})

	t.Run("unknown", func(t *testing.T) {
		e := newEnv(t, false)
		resp, _ := e.do(t, http.MethodGet, "/api/jobs/nope/result", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = e.do(t, http.MethodGet, "/api/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDataEndpoints(t *testing.T) {
	e := newEnv(t, true)
	sub := e.submit(t, "/api/jobs")
	e.waitFinished(t, sub.JobID)

	resp, data := e.do(t, http.MethodGet, "/api/data?page=2&limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[service.DataPage](t, data)
	assert.Equal(t, sub.JobID, page.JobID)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Data, 1)

	_, data = e.do(t, http.MethodGet, "/api/data?search=%E3%81%B2%E3%81%BE&jobId="+sub.JobID, "")
	page = decode[service.DataPage](t, data)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "ひまわり", page.Data[0].Name)

	resp, _ = e.do(t, http.MethodGet, "/api/data?jobId=missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = e.do(t, http.MethodDelete, "/api/data?jobId="+sub.JobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"success": true, "jobId": sub.JobID}, decode[map[string]any](t, data))

	_, data = e.do(t, http.MethodGet, "/api/data", "")
	assert.Zero(t, decode[service.DataPage](t, data).Total)

	resp, _ = e.do(t, http.MethodDelete, "/api/data?jobId=missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDataForQueuedJobConflicts(t *testing.T) {
	e := newEnv(t, false)
	sub := e.submit(t, "/api/jobs")

	resp, data := e.do(t, http.MethodGet, "/api/data?jobId="+sub.JobID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]any](t, data)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "job is not completed yet: "+sub.JobID, body["error"])
}

func TestExport(t *testing.T) {
	e := newEnv(t, true)

	resp, data := e.do(t, http.MethodGet, "/api/export/csv", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "エクスポートするデータがありません。", decode[map[string]string](t, data)["error"])

	sub := e.submit(t, "/api/jobs")
	e.waitFinished(t, sub.JobID)

	tests := []struct {
		format      string
		contentType string
		filename    string
	}{
		{"csv", "text/csv; charset=utf-8", "kaigo_data.csv"},
		{"excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "kaigo_data.xlsx"},
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "kaigo_data.xlsx"},
		{"parquet", "application/vnd.apache.parquet", "kaigo_data.parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			resp, data := e.do(t, http.MethodGet, "/api/export/"+tt.format+"?jobId="+sub.JobID, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			assert.Contains(t, resp.Header.Get("Content-Disposition"), tt.filename)
			assert.NotEmpty(t, data)
		})
	}

	_, data = e.do(t, http.MethodGet, "/api/export/csv", "")
	assert.True(t, strings.HasPrefix(string(data), "\uFEFF\"都道府県\""))
	assert.Contains(t, string(data), `"さくら苑"`)

	resp, _ = e.do(t, http.MethodGet, "/api/export/pdf", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReferenceEndpoints(t *testing.T) {
	e := newEnv(t, false)

	_, data := e.do(t, http.MethodGet, "/api/prefectures", "")
	prefs := decode[struct {
		Prefectures []map[string]string `json:"prefectures"`
		Regions     []string            `json:"regions"`
	}](t, data)
	assert.Len(t, prefs.Prefectures, 47)
	assert.NotEmpty(t, prefs.Regions)

	_, data = e.do(t, http.MethodGet, "/api/service-types", "")
	types := decode[map[string][]map[string]any](t, data)
	assert.NotEmpty(t, types["serviceTypes"])
}

func TestHealth(t *testing.T) {
	e := newEnv(t, false)
	e.submit(t, "/api/jobs")

	resp, data := e.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[service.Health](t, data)
	assert.True(t, h.OK)
	assert.Equal(t, 1, h.Queue.Length)
	assert.Equal(t, service.JobCounts{Total: 1, Queued: 1}, h.Jobs)
	assert.False(t, h.Scraping.Running)

	body := decode[map[string]any](t, data)
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "currentDataJobId")
}

func TestMetricsAndCORS(t *testing.T) {
	e := newEnv(t, false)

	resp, data := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "harvest_queue_depth")

	resp, _ = e.do(t, http.MethodOptions, "/api/jobs", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoverMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestProgressSSE(t *testing.T) {
	e := newEnv(t, true)

	resp, err := http.Get(e.srv.URL + "/api/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	sub := e.submit(t, "/api/jobs")

	deadline := time.After(5 * time.Second)
	frames := make(chan progress.Message)
	go func() {
		defer close(frames)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
			if !ok {
				continue
			}
			var msg progress.Message
			if json.Unmarshal([]byte(payload), &msg) == nil {
				frames <- msg
			}
		}
	}()

	var phases []string
	for {
		select {
		case msg, ok := <-frames:
			require.True(t, ok, "stream ended early")
			assert.Equal(t, sub.JobID, msg.JobID)
			phases = append(phases, msg.Phase)
			if msg.Phase == progress.PhaseComplete {
				assert.Equal(t, []string{"queued", "start", "download", "complete"}, phases)
				return
			}
		case <-deadline:
			t.Fatalf("no completion frame, got phases %v", phases)
		}
	}
}

func TestProgressWebSocket(t *testing.T) {
	e := newEnv(t, true)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sub := e.submit(t, "/api/jobs")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var seqs []int
	for {
		var msg progress.Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, sub.JobID, msg.JobID)
		seqs = append(seqs, msg.Seq)
		if msg.Phase == progress.PhaseComplete {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, seqs)
	assert.Equal(t, 1, e.hub.Len())
}

func TestProgressFilterByJob(t *testing.T) {
	e := newEnv(t, false)

	url := fmt.Sprintf("ws%s/api/ws?jobId=%s", strings.TrimPrefix(e.srv.URL, "http"), "wanted")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	e.hub.Publish(progress.Message{JobID: "other", Message: "skip"})
	e.hub.Publish(progress.Message{JobID: "wanted", Message: "keep"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg progress.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "keep", msg.Message)
}
