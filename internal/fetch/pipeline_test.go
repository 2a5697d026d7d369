package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func testClient() *Client {
	return NewClient(Options{
		Timeout:        5 * time.Second,
		Backoff:        time.Millisecond,
		RateLimitDelay: time.Millisecond,
	})
}

func buildZip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) inc(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func newRegistryServer(t *testing.T) (*httptest.Server, *hitCounter) {
	t.Helper()
	sjis, err := japanese.ShiftJIS.NewEncoder().String(sampleCSV)
	require.NoError(t, err)
	archive := buildZip(t, map[string][]byte{
		"data/jigyosho_110.csv": []byte(sampleCSV),
		"README.txt":            []byte("not data"),
	})

	counter := &hitCounter{hits: make(map[string]int)}
	mux := http.NewServeMux()
	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/data.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(sjis))
	})
	mux.HandleFunc("/bundle.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(archive)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	mux.HandleFunc("/landing.html", html(`<html><body>
		<a href="/about">about</a>
		<a href="/missing.csv">old</a>
		<a href="/data.csv">current</a>
		<a href="/data.csv#dup">dup</a>
	</body></html>`))
	mux.HandleFunc("/download/loop.html", html(`<html><a href="/download/loop2.html">next</a><a href="/download/loop.html">self</a></html>`))
	mux.HandleFunc("/download/loop2.html", html(`<html><a href="/download/loop.html">back</a></html>`))
	mux.HandleFunc("/download/a.html", html(`<html><a href="/download/b.html">b</a></html>`))
	mux.HandleFunc("/download/b.html", html(`<html><a href="/download/c.html">c</a></html>`))
	mux.HandleFunc("/download/c.html", html(`<html><a href="/data.csv">data</a></html>`))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.inc(r.URL.Path)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, counter
}

func TestFetchRecordsShiftJISCSV(t *testing.T) {
	srv, _ := newRegistryServer(t)
	p := NewPipeline(testClient(), 0)

	rows := p.FetchRecords(context.Background(), srv.URL+"/data.csv", nil, 0)
	require.Len(t, rows, 2)
	assert.Equal(t, "さくら苑", rows[0].Values["事業所名"])
}

func TestFetchRecordsArchive(t *testing.T) {
	srv, _ := newRegistryServer(t)
	p := NewPipeline(testClient(), 0)

	t.Run("by extension", func(t *testing.T) {
		rows := p.FetchRecords(context.Background(), srv.URL+"/bundle.zip", nil, 0)
		require.Len(t, rows, 2)
		assert.Equal(t, "ひまわり", rows[1].Values["事業所名"])
	})

	t.Run("by magic bytes", func(t *testing.T) {
		rows := p.FetchRecords(context.Background(), srv.URL+"/blob", nil, 0)
		assert.Len(t, rows, 2)
	})
}

func TestFetchRecordsFollowsLinks(t *testing.T) {
	srv, hits := newRegistryServer(t)
	p := NewPipeline(testClient(), 0)

	rows := p.FetchRecords(context.Background(), srv.URL+"/landing.html", nil, 0)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, hits.get("/missing.csv"), "404 is not retried")
	assert.Equal(t, 0, hits.get("/about"), "non-data links are ignored")
}

func TestFetchRecordsCycleTerminates(t *testing.T) {
	srv, hits := newRegistryServer(t)
	p := NewPipeline(testClient(), 5)

	rows := p.FetchRecords(context.Background(), srv.URL+"/download/loop.html", nil, 0)
	assert.Empty(t, rows)
	assert.Equal(t, 1, hits.get("/download/loop.html"))
	assert.Equal(t, 1, hits.get("/download/loop2.html"))
}

func TestFetchRecordsDepthLimit(t *testing.T) {
	srv, hits := newRegistryServer(t)

	rows := NewPipeline(testClient(), 2).FetchRecords(context.Background(), srv.URL+"/download/a.html", nil, 0)
	assert.Empty(t, rows)
	assert.Equal(t, 1, hits.get("/download/c.html"))
	assert.Equal(t, 0, hits.get("/data.csv"))

	rows = NewPipeline(testClient(), 3).FetchRecords(context.Background(), srv.URL+"/download/a.html", nil, 0)
	assert.Len(t, rows, 2)
}

func TestFetchRecordsSharedVisited(t *testing.T) {
	srv, hits := newRegistryServer(t)
	p := NewPipeline(testClient(), 0)
	visited := NewVisited()

	first := p.FetchRecords(context.Background(), srv.URL+"/data.csv", visited, 0)
	second := p.FetchRecords(context.Background(), srv.URL+"/data.csv", visited, 0)
	assert.Len(t, first, 2)
	assert.Empty(t, second)
	assert.Equal(t, 1, hits.get("/data.csv"))
}

func TestFetchRecordsUnreachable(t *testing.T) {
	p := NewPipeline(testClient(), 0)
	assert.Empty(t, p.FetchRecords(context.Background(), "http://127.0.0.1:1/none.csv", nil, 0))
}

func TestExtractDataLinks(t *testing.T) {
	html := []byte(`<a href="files/a.csv">a</a><a href="https://cdn.example.org/b.zip?v=2">b</a>
		<a href="/opendata/list">c</a><a href="/contact">d</a><a href="files/a.csv">again</a><a href="javascript:void(0)">x</a>`)

	got := ExtractDataLinks("https://www.example.go.jp/stf/index.html", html)
	assert.Equal(t, []string{
		"https://www.example.go.jp/stf/files/a.csv",
		"https://cdn.example.org/b.zip?v=2",
		"https://www.example.go.jp/opendata/list",
	}, got)
}
