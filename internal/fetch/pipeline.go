package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// DefaultMaxDepth bounds how many HTML pages deep FetchRecords follows links.
const DefaultMaxDepth = 2

// Pipeline turns a URL into raw rows, following HTML landing pages to the data they link.
type Pipeline struct {
	client   *Client
	maxDepth int
}

// NewPipeline creates a pipeline. maxDepth <= 0 uses DefaultMaxDepth.
func NewPipeline(client *Client, maxDepth int) *Pipeline {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Pipeline{client: client, maxDepth: maxDepth}
}

// Client returns the underlying HTTP client.
func (p *Pipeline) Client() *Client {
	return p.client
}

// FetchRecords downloads u and returns its rows. Failures are logged and
// yield no rows. visited may be nil for a fresh traversal.
func (p *Pipeline) FetchRecords(ctx context.Context, u string, visited *Visited, depth int) []models.RawRow {
	if u == "" {
		return nil
	}
	if visited == nil {
		visited = NewVisited()
	}
	if !visited.Add(u) {
		return nil
	}

	resp, err := p.client.Get(ctx, u)
	if err != nil {
		slog.Warn("download failed", "url", u, "error", err)
		return nil
	}

	switch {
	case isArchive(u, resp):
		rows, err := ExtractArchive(resp.Body)
		if err != nil {
			slog.Warn("archive unreadable", "url", u, "error", err)
			return nil
		}
		return rows

	case isHTML(resp):
		if depth >= p.maxDepth {
			return nil
		}
		for _, link := range ExtractDataLinks(resp.FinalURL, resp.Body) {
			if rows := p.FetchRecords(ctx, link, visited, depth+1); len(rows) > 0 {
				return rows
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return nil

	default:
		return ParseDelimited(DecodeText(resp.Body))
	}
}

func isArchive(u string, resp *Response) bool {
	ct := strings.ToLower(resp.ContentType)
	if strings.Contains(ct, "application/zip") || strings.Contains(ct, "application/x-zip-compressed") {
		return true
	}
	for _, candidate := range []string{u, resp.FinalURL} {
		if parsed, err := url.Parse(candidate); err == nil && strings.HasSuffix(strings.ToLower(parsed.Path), ".zip") {
			return true
		}
	}
	return looksLikeZip(resp.Body)
}

func isHTML(resp *Response) bool {
	if strings.Contains(strings.ToLower(resp.ContentType), "text/html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(resp.Body[:min(len(resp.Body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
