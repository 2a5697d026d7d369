package source

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kaigo-harvest/internal/fetch"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
)

func testClient() *fetch.Client {
	return fetch.NewClient(fetch.Options{
		Timeout:        5 * time.Second,
		Backoff:        time.Millisecond,
		RateLimitDelay: time.Millisecond,
	})
}

func testPipeline() *fetch.Pipeline {
	return fetch.NewPipeline(testClient(), 0)
}

// recorder returns a reporter with room for every event a test produces and
// a function that drains what was reported so far.
func recorder() (*progress.Reporter, func() []progress.Event) {
	ch := make(chan progress.Event, 1024)
	return progress.NewReporter(ch), func() []progress.Event {
		var out []progress.Event
		for {
			select {
			case e := <-ch:
				out = append(out, e)
			default:
				return out
			}
		}
	}
}

func zipOf(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func messages(events []progress.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}
