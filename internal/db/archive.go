package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
)

const (
	// archiveBatchSize bounds the facilities written per query.
	archiveBatchSize = 500
	conflictRetries  = 3
)

// ArchivedJob is a job row read back from the archive.
type ArchivedJob struct {
	ID          surrealmodels.RecordID `json:"id"`
	Method      string                 `json:"method"`
	Regions     []string               `json:"regions"`
	Services    []string               `json:"services"`
	Status      string                 `json:"status"`
	Total       int                    `json:"total"`
	SourceStats []map[string]any       `json:"source_stats"`
	Created     time.Time              `json:"created"`
	Finished    time.Time              `json:"finished"`
	Archived    time.Time              `json:"archived"`
}

// ArchivedFacility is a facility row read back from the archive.
type ArchivedFacility struct {
	ID              surrealmodels.RecordID `json:"id"`
	Prefecture      string                 `json:"prefecture"`
	JigyoushoNumber string                 `json:"jigyousho_number"`
	Name            string                 `json:"name"`
	Address         string                 `json:"address"`
	Phone           string                 `json:"phone"`
	ServiceType     string                 `json:"service_type"`
	CorporateName   string                 `json:"corporate_name"`
	UserCount       string                 `json:"user_count"`
	Sources         []string               `json:"sources"`
	LastJob         string                 `json:"last_job"`
}

// FacilityKey derives the archive record key for r from its dedup key, so the
// same facility harvested by different jobs lands on one row.
func FacilityKey(r models.FacilityRecord) string {
	sum := sha256.Sum256([]byte(normalize.DedupeKey(r)))
	return hex.EncodeToString(sum[:12])
}

func facilityVars(r models.FacilityRecord) map[string]any {
	sources := r.SourceList()
	if sources == nil {
		sources = []string{}
	}
	return map[string]any{
		"key":              FacilityKey(r),
		"prefecture":       r.Region,
		"jigyousho_number": r.RegistryNumber,
		"name":             r.Name,
		"postal_code":      r.PostalCode,
		"address":          r.Address,
		"phone":            r.Phone,
		"fax":              r.Fax,
		"service_type":     r.ServiceType,
		"corporate_name":   r.OperatorName,
		"corporate_type":   r.OperatorType,
		"user_count":       r.UserCount,
		"sources":          sources,
	}
}

func statVars(stats []models.SourceStat) []map[string]any {
	out := make([]map[string]any, 0, len(stats))
	for _, s := range stats {
		out = append(out, map[string]any{
			"source": s.Source,
			"label":  s.Label,
			"count":  s.Count,
			"status": string(s.Status),
			"error":  s.Error,
		})
	}
	return out
}

// ArchiveJob upserts the job row and every facility. Facilities already
// archived keep their first_seen time and accumulate source tags.
func (c *Client) ArchiveJob(ctx context.Context, job models.JobSummary, records []models.FacilityRecord) error {
	regions, services := job.Regions, job.Services
	if regions == nil {
		regions = []string{}
	}
	if services == nil {
		services = []string{}
	}

	err := c.withConflictRetry(ctx, func() error {
		_, err := surrealdb.Query[any](ctx, c.db, `
			UPSERT type::record("harvest_job", $id) SET
				method = $method,
				regions = $regions,
				services = $services,
				status = $status,
				total = $total,
				source_stats = $stats,
				created = type::datetime($created),
				finished = type::datetime($finished),
				archived = time::now()
		`, map[string]any{
			"id":       job.ID,
			"method":   string(job.Method),
			"regions":  regions,
			"services": services,
			"status":   string(job.Status),
			"total":    job.Total,
			"stats":    statVars(job.SourceStats),
			"created":  job.CreatedAt.UTC().Format(time.RFC3339Nano),
			"finished": job.FinishedAt.UTC().Format(time.RFC3339Nano),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}

	for start := 0; start < len(records); start += archiveBatchSize {
		batch := records[start:min(start+archiveBatchSize, len(records))]
		facilities := make([]map[string]any, len(batch))
		for i, r := range batch {
			facilities[i] = facilityVars(r)
		}
		err := c.withConflictRetry(ctx, func() error {
			_, err := surrealdb.Query[any](ctx, c.db, `
				FOR $f IN $facilities {
					UPSERT type::record("facility", $f.key) SET
						prefecture = $f.prefecture,
						jigyousho_number = $f.jigyousho_number,
						name = $f.name,
						postal_code = $f.postal_code,
						address = $f.address,
						phone = $f.phone,
						fax = $f.fax,
						service_type = $f.service_type,
						corporate_name = $f.corporate_name,
						corporate_type = $f.corporate_type,
						user_count = $f.user_count,
						sources = array::union(sources ?? [], $f.sources),
						last_job = $job,
						first_seen = IF first_seen THEN first_seen ELSE time::now() END,
						updated = time::now();
				};
			`, map[string]any{"facilities": facilities, "job": job.ID})
			return err
		})
		if err != nil {
			return fmt.Errorf("archive facilities %d-%d of job %s: %w", start, start+len(batch), job.ID, err)
		}
	}

	c.logger.Debug("job archived", "job_id", job.ID, "facilities", len(records))
	return nil
}

// withConflictRetry runs fn, retrying with a short backoff while SurrealDB
// reports a transaction conflict.
func (c *Client) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := range conflictRetries {
		err = wrapQueryError(fn())
		if !errors.Is(err, ErrTransactionConflict) {
			return err
		}
		c.logger.Warn("transaction conflict, retrying", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return err
}

// ListArchivedJobs returns up to limit archived jobs, most recently finished first.
func (c *Client) ListArchivedJobs(ctx context.Context, limit int) ([]ArchivedJob, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]ArchivedJob](ctx, c.db, `
		SELECT * FROM harvest_job ORDER BY finished DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []ArchivedJob{}, nil
	}
	return (*results)[0].Result, nil
}

// GetFacility returns the archived row for r, or ErrNotFound.
func (c *Client) GetFacility(ctx context.Context, r models.FacilityRecord) (*ArchivedFacility, error) {
	results, err := surrealdb.Query[[]ArchivedFacility](ctx, c.db, `
		SELECT * FROM type::record("facility", $key)
	`, map[string]any{"key": FacilityKey(r)})
	if err != nil {
		return nil, fmt.Errorf("get facility: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// CountFacilities returns the number of archived facilities in prefecture,
// or in total when prefecture is empty.
func (c *Client) CountFacilities(ctx context.Context, prefecture string) (int, error) {
	sql := `SELECT count() AS c FROM facility GROUP ALL`
	vars := map[string]any{}
	if prefecture != "" {
		sql = `SELECT count() AS c FROM facility WHERE prefecture = $prefecture GROUP ALL`
		vars["prefecture"] = prefecture
	}
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count facilities: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
