package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/fetch"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
)

const (
	DefaultCatalogIndexURL    = "https://www.mhlw.go.jp/stf/kaigo-kouhyou_opendata.html"
	DefaultCatalogContentBase = "https://www.mhlw.go.jp/content/12300000"

	CatalogID  = "official-opendata"
	catalogTag = "mhlw.go.jp"
)

var (
	catalogLinkPattern  = regexp.MustCompile(`(?i)\.(csv|zip)(\?|$)`)
	textCodePattern     = regexp.MustCompile(`^(\d{3})_`)
	urlCodePattern      = regexp.MustCompile(`(?i)jigyosho_(\d{3})`)
	allTimestampPattern = regexp.MustCompile(`(?i)_all_(\d{14})\.(csv|zip)`)
	versionPattern      = regexp.MustCompile(`(?i)/(\d{6,})\.(csv|zip)`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// CatalogConfig locates the primary catalog. Empty fields use the public endpoints.
type CatalogConfig struct {
	IndexURL    string
	ContentBase string
}

// Catalog is the primary catalog adapter. It reads the published index of
// per-service registry files and downloads the best file for each service code.
type Catalog struct {
	pipeline    *fetch.Pipeline
	indexURL    string
	contentBase string
}

// NewCatalog creates the primary catalog adapter.
func NewCatalog(pipeline *fetch.Pipeline, cfg CatalogConfig) *Catalog {
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultCatalogIndexURL
	}
	if cfg.ContentBase == "" {
		cfg.ContentBase = DefaultCatalogContentBase
	}
	return &Catalog{
		pipeline:    pipeline,
		indexURL:    cfg.IndexURL,
		contentBase: strings.TrimRight(cfg.ContentBase, "/"),
	}
}

func (c *Catalog) ID() string    { return CatalogID }
func (c *Catalog) Label() string { return "[公式]" }

// Fetch implements Adapter.
func (c *Catalog) Fetch(ctx context.Context, req Request, rep *progress.Reporter) ([]models.FacilityRecord, error) {
	best, indexErr := c.loadIndex(ctx)
	if indexErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("catalog index unavailable", "url", c.indexURL, "error", indexErr)
		rep.Report(progress.PhaseError, fmt.Sprintf("カタログ取得失敗: %v", indexErr), 0)
	} else {
		rep.Report(progress.PhaseDownload, fmt.Sprintf("カタログ取得成功: %d種", len(best)), 0)
	}

	var results []models.FacilityRecord
	total := len(req.Services)
	for i, svc := range req.Services {
		rep.Report(progress.PhaseDownload, svc.Name+" を取得中...", percent(i, total))

		var raw []models.RawRow
		for _, code := range svc.CatalogCodes {
			rep.Report(progress.PhaseDownload, fmt.Sprintf("%s (%s) を取得中...", svc.Name, code), progress.Indeterminate)
			raw = append(raw, c.fetchCode(ctx, code, best[code])...)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		if len(raw) == 0 {
			rep.Report(progress.PhaseError, svc.Name+": データ未取得", percent(i+1, total))
			continue
		}

		mapped := normalize.ToCanonical(normalize.FilterByRegion(raw, req.Prefectures), svc.Name, catalogTag)
		results = append(results, mapped...)
		rep.Report(progress.PhaseParse, fmt.Sprintf("%s: %d件", svc.Name, len(mapped)), percent(i+1, total))
	}

	if len(results) == 0 && indexErr != nil {
		return nil, fmt.Errorf("load catalog index: %w", indexErr)
	}
	return normalize.Dedupe(results), nil
}

// fetchCode tries the indexed URL, then the conventional locations, and
// returns the first non-empty result.
func (c *Catalog) fetchCode(ctx context.Context, code, indexed string) []models.RawRow {
	for _, u := range c.candidates(code, indexed) {
		if rows := c.pipeline.FetchRecords(ctx, u, nil, 0); len(rows) > 0 {
			slog.Debug("catalog file loaded", "code", code, "url", u, "rows", len(rows))
			return rows
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (c *Catalog) candidates(code, indexed string) []string {
	fallbacks := []string{
		fmt.Sprintf("%s/jigyosho_%s.csv", c.contentBase, code),
		fmt.Sprintf("%s/jigyosho_%s.zip", c.contentBase, code),
	}
	out := make([]string, 0, 3)
	if indexed != "" {
		out = append(out, indexed)
	}
	for _, f := range fallbacks {
		if f != indexed {
			out = append(out, f)
		}
	}
	return out
}

type catalogCandidate struct {
	url       string
	score     int
	timestamp int64
}

// loadIndex maps each three-digit service code to the best download URL on the index page.
func (c *Catalog) loadIndex(ctx context.Context) (map[string]string, error) {
	resp, err := c.pipeline.Client().Get(ctx, c.indexURL)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]catalogCandidate)
	for _, a := range fetch.ExtractAnchors(resp.FinalURL, resp.Body) {
		if !catalogLinkPattern.MatchString(a.URL) {
			continue
		}
		text := strings.TrimSpace(whitespaceRun.ReplaceAllString(a.Text, " "))
		code := catalogServiceCode(text, a.URL)
		if code == "" {
			continue
		}
		grouped[code] = append(grouped[code], catalogCandidate{
			url:       a.URL,
			score:     scoreCatalogCandidate(code, a.URL),
			timestamp: catalogTimestamp(a.URL),
		})
	}

	best := make(map[string]string, len(grouped))
	for code, cands := range grouped {
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].score != cands[j].score {
				return cands[i].score > cands[j].score
			}
			return cands[i].timestamp > cands[j].timestamp
		})
		best[code] = cands[0].url
	}
	return best, nil
}

func catalogServiceCode(text, u string) string {
	if m := textCodePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := urlCodePattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

func catalogTimestamp(u string) int64 {
	for _, p := range []*regexp.Regexp{allTimestampPattern, versionPattern} {
		if m := p.FindStringSubmatch(u); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			return n
		}
	}
	return 0
}

func scoreCatalogCandidate(code, u string) int {
	lower := strings.ToLower(u)
	score := 0
	if strings.Contains(lower, "jigyosho_"+code+".csv") {
		score += 400
	}
	if strings.Contains(lower, "jigyosho_"+code+"_all_") && strings.HasSuffix(lower, ".csv") {
		score += 350
	}
	if strings.HasSuffix(lower, ".csv") {
		score += 220
	}
	if strings.Contains(lower, ".csv?") {
		score += 200
	}
	if strings.HasSuffix(lower, ".zip") {
		score += 150
	}
	if strings.Contains(lower, "mhlw.go.jp/content/") {
		score += 50
	}
	return score
}
