package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/raphaelgruber/kaigo-harvest/internal/fetch"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
)

const (
	DefaultPackageSearchURL = "https://data.e-gov.go.jp/data/api/action/package_search"

	DefaultPackagesPerQuery    = 60
	DefaultResourcesPerService = 8
	DefaultDownloadsPerService = 6

	OpenDataSearchID = "data-go"
	openDataTag      = "data.go.jp"

	minPackageScore  = 20
	minResourceScore = 40
)

var fileTokenPrefix = regexp.MustCompile(`^jigyous(?:yo|ho)_`)

// OpenDataSearchConfig tunes the secondary catalog adapter. Zero values take the defaults.
type OpenDataSearchConfig struct {
	SearchURL           string
	PackagesPerQuery    int
	ResourcesPerService int
	DownloadsPerService int
}

// OpenDataSearch is the secondary catalog adapter. It queries a CKAN
// package_search endpoint, scores the returned datasets and their resources,
// and downloads the best tabular resources for each service.
type OpenDataSearch struct {
	pipeline *fetch.Pipeline
	cfg      OpenDataSearchConfig
}

// NewOpenDataSearch creates the secondary catalog adapter.
func NewOpenDataSearch(pipeline *fetch.Pipeline, cfg OpenDataSearchConfig) *OpenDataSearch {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultPackageSearchURL
	}
	if cfg.PackagesPerQuery <= 0 {
		cfg.PackagesPerQuery = DefaultPackagesPerQuery
	}
	if cfg.ResourcesPerService <= 0 {
		cfg.ResourcesPerService = DefaultResourcesPerService
	}
	if cfg.DownloadsPerService <= 0 {
		cfg.DownloadsPerService = DefaultDownloadsPerService
	}
	return &OpenDataSearch{pipeline: pipeline, cfg: cfg}
}

func (o *OpenDataSearch) ID() string    { return OpenDataSearchID }
func (o *OpenDataSearch) Label() string { return "[data.go.jp]" }

// Fetch implements Adapter.
func (o *OpenDataSearch) Fetch(ctx context.Context, req Request, rep *progress.Reporter) ([]models.FacilityRecord, error) {
	var results []models.FacilityRecord
	total := len(req.Services)

	for i, svc := range req.Services {
		rep.Report(progress.PhaseDownload, svc.Name+" の候補データセット探索中...", percent(i, total))

		resources := o.search(ctx, svc)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(resources) == 0 {
			rep.Report(progress.PhaseError, svc.Name+": 候補リソースなし", percent(i+1, total))
			continue
		}

		var serviceResults []models.FacilityRecord
		for _, res := range resources[:min(len(resources), o.cfg.DownloadsPerService)] {
			title := res.datasetTitle
			if title == "" {
				title = res.url
			}
			rep.Report(progress.PhaseDownload, fmt.Sprintf("%s: %s", svc.Name, title), progress.Indeterminate)

			raw := o.pipeline.FetchRecords(ctx, res.url, nil, 0)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(raw) == 0 {
				continue
			}
			filtered := normalize.FilterByRegion(raw, req.Prefectures)
			serviceResults = append(serviceResults, normalize.ToCanonical(filtered, svc.Name, openDataTag)...)
		}

		deduped := normalize.Dedupe(serviceResults)
		results = append(results, deduped...)
		rep.Report(progress.PhaseParse, fmt.Sprintf("%s: %d件", svc.Name, len(deduped)), percent(i+1, total))
	}

	return normalize.Dedupe(results), nil
}

type ckanSearchResponse struct {
	Success bool `mapstructure:"success"`
	Result  struct {
		Results []ckanPackage `mapstructure:"results"`
	} `mapstructure:"result"`
}

type ckanPackage struct {
	ID    string `mapstructure:"id"`
	Title string `mapstructure:"title"`
	Notes string `mapstructure:"notes"`
	Tags  []struct {
		DisplayName string `mapstructure:"display_name"`
	} `mapstructure:"tags"`
	Organization struct {
		Title string `mapstructure:"title"`
	} `mapstructure:"organization"`
	Resources []ckanResource `mapstructure:"resources"`
}

type ckanResource struct {
	URL         string `mapstructure:"url"`
	DownloadURL string `mapstructure:"download_url"`
	Format      string `mapstructure:"format"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

func (r ckanResource) location() string {
	if u := strings.TrimSpace(r.URL); u != "" {
		return u
	}
	return strings.TrimSpace(r.DownloadURL)
}

// decodeSearchResponse binds a loosely typed CKAN payload. Portals disagree on
// scalar types (numeric ids, null organizations), so decoding is weakly typed.
func decodeSearchResponse(payload map[string]any) (ckanSearchResponse, error) {
	var out ckanSearchResponse
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(payload); err != nil {
		return out, fmt.Errorf("decode package_search payload: %w", err)
	}
	return out, nil
}

func serviceQueries(svc reference.ServiceType) []string {
	token := fileTokenPrefix.ReplaceAllString(svc.OpendataFile, "")
	return []string{
		"介護サービス情報公表システム " + svc.Name,
		"介護 オープンデータ " + svc.Name,
		"介護 " + token,
	}
}

func (o *OpenDataSearch) searchURL(query string) string {
	return o.cfg.SearchURL + "?q=" + url.QueryEscape(query) +
		"&rows=" + strconv.Itoa(o.cfg.PackagesPerQuery) + "&sort=score+desc"
}

// search runs every query for svc and returns the ranked resource candidates.
func (o *OpenDataSearch) search(ctx context.Context, svc reference.ServiceType) []resourceCandidate {
	var order []string
	packages := make(map[string]ckanPackage)

	for _, q := range serviceQueries(svc) {
		var payload map[string]any
		if err := o.pipeline.Client().GetJSON(ctx, o.searchURL(q), &payload); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("package search failed", "query", q, "error", err)
			continue
		}
		resp, err := decodeSearchResponse(payload)
		if err != nil || !resp.Success {
			slog.Warn("package search returned unusable payload", "query", q, "error", err)
			continue
		}
		for _, pkg := range resp.Result.Results {
			if pkg.ID == "" {
				continue
			}
			if _, ok := packages[pkg.ID]; !ok {
				order = append(order, pkg.ID)
			}
			packages[pkg.ID] = pkg
		}
	}

	list := make([]ckanPackage, 0, len(order))
	for _, id := range order {
		list = append(list, packages[id])
	}
	return rankResources(svc, list, o.cfg.ResourcesPerService)
}

type resourceCandidate struct {
	url          string
	score        int
	datasetTitle string
}

func rankResources(svc reference.ServiceType, packages []ckanPackage, limit int) []resourceCandidate {
	var order []string
	best := make(map[string]resourceCandidate)

	for _, pkg := range packages {
		pkgScore := scorePackage(svc, pkg)
		if pkgScore < minPackageScore {
			continue
		}
		for _, res := range pkg.Resources {
			raw := res.location()
			lower := strings.ToLower(raw)
			if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
				continue
			}
			format := strings.ToLower(strings.TrimSpace(res.Format))
			if !strings.Contains(format, "csv") && !strings.Contains(format, "zip") && !fetch.LooksTabular(lower) {
				continue
			}
			score := pkgScore + scoreResource(svc, res)
			if score < minResourceScore {
				continue
			}
			current, ok := best[raw]
			if !ok {
				order = append(order, raw)
			}
			if !ok || current.score < score {
				best[raw] = resourceCandidate{url: raw, score: score, datasetTitle: pkg.Title}
			}
		}
	}

	out := make([]resourceCandidate, 0, len(order))
	for _, u := range order {
		out = append(out, best[u])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func scorePackage(svc reference.ServiceType, pkg ckanPackage) int {
	parts := []string{pkg.Title, pkg.Notes}
	for _, tag := range pkg.Tags {
		parts = append(parts, tag.DisplayName)
	}
	parts = append(parts, pkg.Organization.Title)
	text := strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))

	score := 0
	if containsAny(text, "介護", "care") {
		score += 20
	}
	if containsAny(text, "公表", "オープンデータ", "open data") {
		score += 20
	}
	if strings.Contains(text, strings.ToLower(svc.Name)) {
		score += 20
	}
	if containsAny(text, "厚生労働", "mhlw") {
		score += 20
	}
	if containsAny(text, "事業所", "施設") {
		score += 10
	}
	return score
}

func scoreResource(svc reference.ServiceType, res ckanResource) int {
	u := strings.ToLower(res.location())
	format := strings.ToLower(strings.TrimSpace(res.Format))
	text := strings.ToLower(strings.Join([]string{res.Name, res.Description, format, u}, " "))
	token := strings.ToLower(fileTokenPrefix.ReplaceAllString(svc.OpendataFile, ""))

	score := 0
	if strings.Contains(format, "csv") || strings.Contains(format, "zip") {
		score += 20
	}
	if strings.HasSuffix(u, ".csv") || strings.HasSuffix(u, ".zip") {
		score += 20
	}
	if strings.Contains(u, ".csv?") || strings.Contains(u, ".zip?") {
		score += 10
	}
	if strings.Contains(text, strings.ToLower(svc.Name)) {
		score += 20
	}
	if strings.Contains(text, token) {
		score += 30
	}
	if containsAny(text, "kaigokensaku", "mhlw") {
		score += 20
	}
	return score
}
