// Package client provides an HTTP client for the harvest server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kaigo-harvest/internal/export"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
)

// DefaultServerURL is used when neither an explicit URL nor HARVEST_SERVER_URL is set.
const DefaultServerURL = "http://localhost:3001"

// ErrStop ends a Watch without error when returned from its callback.
var ErrStop = errors.New("stop watching")

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Status     models.JobStatus
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the harvest server's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
// If baseURL is empty, uses HARVEST_SERVER_URL or DefaultServerURL.
// Timeout can be configured via HARVEST_CLIENT_TIMEOUT (default 2m, exports can be large).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("HARVEST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultServerURL
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("HARVEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends a request and decodes a JSON answer into out. Status codes listed
// in accept are treated as success; anything else becomes an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, accept ...int) (int, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if !accepted(resp.StatusCode, accept) {
		return resp.StatusCode, decodeAPIError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func accepted(code int, accept []int) bool {
	if len(accept) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accept {
		if a == code {
			return true
		}
	}
	return false
}

func decodeAPIError(code int, data []byte) error {
	var body struct {
		Error  string           `json:"error"`
		Status models.JobStatus `json:"status"`
	}
	apiErr := &APIError{StatusCode: code}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Status = body.Status
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(code)
	}
	return apiErr
}

// SubmitJob enqueues a harvest job.
func (c *Client) SubmitJob(ctx context.Context, req service.SubmitRequest) (*service.Submitted, error) {
	var sub service.Submitted
	if _, err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetJob returns the status of a job with log entries newer than after.
func (c *Client) GetJob(ctx context.Context, id string, after, maxLogs int) (*service.JobStatus, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.Itoa(after))
	}
	q.Set("maxLogs", strconv.Itoa(maxLogs))

	var st service.JobStatus
	if _, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), q, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetResult returns a job's result. A pending job yields its status and
// progress with no data and no error; a failed job yields an *APIError.
func (c *Client) GetResult(ctx context.Context, id string) (*service.JobResult, error) {
	var res service.JobResult
	_, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/result", nil, nil, &res,
		http.StatusOK, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListJobs returns every stored job, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]service.JobStatus, error) {
	var out struct {
		Jobs []service.JobStatus `json:"jobs"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/jobs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// ListData returns one page of the published dataset, or of a job's records.
func (c *Client) ListData(ctx context.Context, q service.DataQuery) (*service.DataPage, error) {
	v := url.Values{}
	if q.JobID != "" {
		v.Set("jobId", q.JobID)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}

	var page service.DataPage
	if _, err := c.do(ctx, http.MethodGet, "/api/data", v, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteData clears the published dataset, or a job's records when jobID is set.
func (c *Client) DeleteData(ctx context.Context, jobID string) error {
	v := url.Values{}
	if jobID != "" {
		v.Set("jobId", jobID)
	}
	_, err := c.do(ctx, http.MethodDelete, "/api/data", v, nil, nil)
	return err
}

// Export streams an export file to w and returns the number of bytes written.
func (c *Client) Export(ctx context.Context, format export.Format, jobID string, w io.Writer) (int64, error) {
	v := url.Values{}
	if jobID != "" {
		v.Set("jobId", jobID)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/export/"+string(format), v, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", format.ContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return 0, decodeAPIError(resp.StatusCode, data)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("write export: %w", err)
	}
	return n, nil
}

// Prefectures returns the prefecture table and the region names.
func (c *Client) Prefectures(ctx context.Context) ([]reference.Prefecture, []string, error) {
	var out struct {
		Prefectures []reference.Prefecture `json:"prefectures"`
		Regions     []string               `json:"regions"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/prefectures", nil, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Prefectures, out.Regions, nil
}

// ServiceTypes returns the service type table.
func (c *Client) ServiceTypes(ctx context.Context) ([]reference.ServiceType, error) {
	var out struct {
		ServiceTypes []reference.ServiceType `json:"serviceTypes"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/service-types", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.ServiceTypes, nil
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (*service.Health, error) {
	var h service.Health
	if _, err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Watch streams progress messages over WebSocket and calls fn for each one.
// jobID limits the stream to one job; empty means all jobs. Watch returns
// when ctx ends, the server closes the stream, or fn returns an error.
// Returning ErrStop from fn ends the watch with a nil error.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(progress.Message) error) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	if jobID != "" {
		u.RawQuery = url.Values{"jobId": {jobID}}.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg progress.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := fn(msg); err != nil {
			if errors.Is(err, ErrStop) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return nil
			}
			return err
		}
	}
}
