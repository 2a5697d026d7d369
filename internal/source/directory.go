package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/kaigo-harvest/internal/fetch"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
)

const (
	DefaultDirectoryBaseURL = "https://www.kaigokensaku.mhlw.go.jp"
	DefaultDirectoryPage    = 50
	DefaultDirectoryPages   = 200
	DefaultDirectoryDelay   = 2 * time.Second

	DirectoryID  = "web-scraping"
	directoryTag = "kaigokensaku.mhlw.go.jp(web)"
)

// DirectoryConfig tunes the directory adapter. Zero values take the defaults.
type DirectoryConfig struct {
	BaseURL  string
	PageSize int
	MaxPages int
	// Delay is the minimum spacing between any two requests.
	Delay time.Duration
}

// Directory is the directory API adapter. Per prefecture it opens the listing
// page to obtain a session cookie and then walks the paginated search API.
type Directory struct {
	client *fetch.Client
	cfg    DirectoryConfig
}

// NewDirectory creates the directory adapter.
func NewDirectory(client *fetch.Client, cfg DirectoryConfig) *Directory {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDirectoryBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultDirectoryPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultDirectoryPages
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDirectoryDelay
	}
	return &Directory{client: client, cfg: cfg}
}

func (d *Directory) ID() string    { return DirectoryID }
func (d *Directory) Label() string { return "[Web補完]" }

// searchPage is one page of the directory search API.
type searchPage struct {
	Items      []map[string]any `json:"items"`
	HasNext    *bool            `json:"hasNext"`
	NextOffset *int             `json:"nextOffset"`
	Total      int              `json:"total"`
}

// Fetch implements Adapter. A failing prefecture is reported and skipped; the
// adapter fails only when every prefecture failed.
func (d *Directory) Fetch(ctx context.Context, req Request, rep *progress.Reporter) ([]models.FacilityRecord, error) {
	limiter := rate.NewLimiter(rate.Every(d.cfg.Delay), 1)

	var (
		results []models.FacilityRecord
		errs    *multierror.Error
	)
	total := len(req.Prefectures)
	for i, pref := range req.Prefectures {
		rep.Report(progress.PhaseScrape, pref.Name+"のデータを取得中...", percent(i, total))

		records, err := d.fetchPrefecture(ctx, limiter, pref, req.Services, rep)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("directory prefecture failed", "prefecture", pref.Code, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", pref.Name, err))
			rep.Report(progress.PhaseError, fmt.Sprintf("%sの取得でエラー: %v", pref.Name, err), percent(i+1, total))
			continue
		}
		results = append(results, records...)
		rep.Report(progress.PhaseScrape, fmt.Sprintf("%s: %d件取得完了", pref.Name, len(records)), percent(i+1, total))
	}

	if len(results) == 0 && errs != nil && len(errs.Errors) == total {
		return nil, errs.ErrorOrNil()
	}
	return normalize.Dedupe(results), nil
}

func (d *Directory) fetchPrefecture(ctx context.Context, limiter *rate.Limiter, pref reference.Prefecture, services []reference.ServiceType, rep *progress.Reporter) ([]models.FacilityRecord, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := d.client.WithJar(jar)

	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if _, err := client.Get(ctx, d.listingURL(pref.Code)); err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}

	var (
		out  []models.FacilityRecord
		errs *multierror.Error
	)
	for _, svc := range services {
		rows, err := d.walk(ctx, client, limiter, pref.Code, svc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("directory search failed", "prefecture", pref.Code, "service", svc.ID, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("search %s: %w", svc.Name, err))
			rep.Report(progress.PhaseError, fmt.Sprintf("%s - %sの取得でエラー: %v", pref.Name, svc.Name, err), progress.Indeterminate)
			continue
		}
		mapped := normalize.ToCanonical(rows, svc.Name, directoryTag)
		for i := range mapped {
			if mapped[i].Region == "" {
				mapped[i].Region = pref.Name
			}
		}
		out = append(out, mapped...)
		rep.Report(progress.PhaseScrape, fmt.Sprintf("%s - %s: %d件", pref.Name, svc.Name, len(mapped)), progress.Indeterminate)
	}
	if errs != nil && len(errs.Errors) == len(services) {
		return nil, errs.ErrorOrNil()
	}
	return out, nil
}

// walk follows the search cursor for one service until the API reports no
// further page or the page ceiling is reached.
func (d *Directory) walk(ctx context.Context, client *fetch.Client, limiter *rate.Limiter, prefCode string, svc reference.ServiceType) ([]models.RawRow, error) {
	var rows []models.RawRow
	offset := 0
	for page := 0; page < d.cfg.MaxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var resp searchPage
		if err := client.GetJSON(ctx, d.searchURL(prefCode, svc.DirectoryCode, offset), &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			row := stringifyItem(item)
			if matchesDirectoryCode(row, svc.DirectoryCode) {
				rows = append(rows, row)
			}
		}

		if len(resp.Items) == 0 {
			break
		}
		if resp.HasNext != nil && !*resp.HasNext {
			break
		}
		if resp.HasNext == nil && resp.NextOffset == nil && len(resp.Items) < d.cfg.PageSize {
			break
		}
		if resp.NextOffset != nil && *resp.NextOffset > offset {
			offset = *resp.NextOffset
		} else {
			offset += len(resp.Items)
		}
		if page == d.cfg.MaxPages-1 {
			slog.Warn("directory page ceiling reached", "prefecture", prefCode, "service", svc.ID, "pages", d.cfg.MaxPages)
		}
	}
	return rows, nil
}

func (d *Directory) listingURL(prefCode string) string {
	return fmt.Sprintf("%s/%s/index.php?action_kouhyou_pref_search_list_list=true", d.cfg.BaseURL, prefCode)
}

func (d *Directory) searchURL(prefCode, serviceCode string, offset int) string {
	q := url.Values{}
	q.Set("action_kouhyou_pref_search_search_json", "true")
	q.Set("PrefCd", prefCode)
	q.Set("ServiceCd", serviceCode)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(d.cfg.PageSize))
	return fmt.Sprintf("%s/%s/index.php?%s", d.cfg.BaseURL, prefCode, q.Encode())
}

// stringifyItem flattens one JSON item into a row. JSON objects carry no
// column order, so headers are sorted.
func stringifyItem(item map[string]any) models.RawRow {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var row models.RawRow
	for _, k := range keys {
		switch val := item[k].(type) {
		case nil:
			row.Set(k, "")
		case string:
			row.Set(k, strings.TrimSpace(val))
		case float64:
			row.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			row.Set(k, strconv.FormatBool(val))
		default:
			row.Set(k, fmt.Sprint(val))
		}
	}
	return row
}

var serviceCodeKeys = map[string]bool{
	"servicecd":   true,
	"servicecode": true,
	"サービスコード":     true,
	"サービス種類コード":   true,
	"サービス種別コード":   true,
}

// matchesDirectoryCode keeps rows whose service code starts with code. Rows
// without a service code column are trusted to match the query.
func matchesDirectoryCode(row models.RawRow, code string) bool {
	for _, k := range row.Headers {
		if !serviceCodeKeys[normalize.NormalizeKey(k)] {
			continue
		}
		if digits := normalize.DigitsOnly(row.Values[k]); digits != "" {
			return strings.HasPrefix(digits, code)
		}
	}
	return true
}
