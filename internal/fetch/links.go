package fetch

import (
	"bytes"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// LooksTabular reports whether a URL points at a csv or zip resource.
func LooksTabular(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".zip") ||
		strings.Contains(lower, ".csv?") || strings.Contains(lower, ".zip?")
}

func looksLikeDataLink(u string) bool {
	lower := strings.ToLower(u)
	return LooksTabular(lower) || strings.Contains(lower, "download") ||
		strings.Contains(lower, "resource") || strings.Contains(lower, "opendata")
}

// Anchor is a resolved link with its visible text.
type Anchor struct {
	URL  string
	Text string
}

// ExtractAnchors returns every resolvable anchor in document order.
func ExtractAnchors(base string, html []byte) []Anchor {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	var out []Anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := baseURL.ResolveReference(ref)
		resolved.Fragment = ""
		out = append(out, Anchor{URL: resolved.String(), Text: strings.TrimSpace(s.Text())})
	})
	return out
}

// ExtractDataLinks returns the unique anchors in html that look like data resources.
func ExtractDataLinks(base string, html []byte) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range ExtractAnchors(base, html) {
		if seen[a.URL] || !looksLikeDataLink(a.URL) {
			continue
		}
		seen[a.URL] = true
		out = append(out, a.URL)
	}
	return out
}

// Visited is a set of URLs already attempted by one traversal. Safe for concurrent use.
type Visited struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewVisited creates an empty set.
func NewVisited() *Visited {
	return &Visited{seen: make(map[string]bool)}
}

// Add records u and reports whether it was new.
func (v *Visited) Add(u string) bool {
	key := u
	if parsed, err := url.Parse(u); err == nil {
		parsed.Fragment = ""
		key = parsed.String()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen[key] {
		return false
	}
	v.seen[key] = true
	return true
}

// Len returns the number of recorded URLs.
func (v *Visited) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
