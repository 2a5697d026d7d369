// Package harvest composes the source adapters into the harvest methods a job can request.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

var (
	// ErrAllSourcesEmpty is returned when no consulted source produced a record.
	ErrAllSourcesEmpty = errors.New("all sources returned zero records; check network restrictions, proxies, or upstream availability")
	// ErrUnknownMethod is returned for a method outside the supported set.
	ErrUnknownMethod = errors.New("unknown harvest method")
)

// FallbackSuffix marks the SourceStat of a supplementary directory run, so it
// reads apart from a single-source web run.
const FallbackSuffix = "-fallback"

// Observer receives per-source outcomes. *metrics.Recorder satisfies it.
type Observer interface {
	ObserveSource(source, status string, records int, d time.Duration)
}

// Result is the merged output of a harvest.
type Result struct {
	Records     []models.FacilityRecord
	SourceStats []models.SourceStat
}

// Orchestrator runs the catalog sources in priority order and decides whether
// the directory source must supplement them.
type Orchestrator struct {
	sources  []source.Adapter
	fallback source.Adapter
	coverage Coverage
	observer Observer
}

// NewOrchestrator creates an orchestrator. sources run in order; fallback runs
// afterwards only when coverage says so. fallback and observer may be nil.
func NewOrchestrator(sources []source.Adapter, fallback source.Adapter, coverage Coverage, observer Observer) *Orchestrator {
	return &Orchestrator{
		sources:  sources,
		fallback: fallback,
		coverage: coverage,
		observer: observer,
	}
}

// Run harvests req. It fails only when every source came back empty, or when
// ctx is done.
func (o *Orchestrator) Run(ctx context.Context, req source.Request, rep *progress.Reporter) (Result, error) {
	var (
		merged []models.FacilityRecord
		stats  []models.SourceStat
		errs   *multierror.Error
	)

	for _, a := range o.sources {
		rep.Report(progress.PhaseStart, a.Label()+" 取得開始", progress.Indeterminate)

		records, stat, err := runSource(ctx, a, a.ID(), req, rep, o.observer)
		stats = append(stats, stat)
		if ctx.Err() != nil {
			return Result{SourceStats: stats}, ctx.Err()
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", a.ID(), err))
			rep.Report(progress.PhaseError, fmt.Sprintf("%s 失敗: %v", a.Label(), err), progress.Indeterminate)
			continue
		}
		merged = normalize.Dedupe(append(merged, records...))
		rep.Report(progress.PhaseParse, fmt.Sprintf("%s 完了: %d件", a.Label(), len(records)), progress.Indeterminate)
	}

	regions, services := len(req.Prefectures), len(req.Services)
	if o.fallback != nil && o.coverage.NeedsSupplement(merged, regions, services) {
		slog.Info("coverage below threshold, running directory source",
			"records", len(merged),
			"expected", o.coverage.Expected(regions, services),
			"user_count_ratio", UserCountRatio(merged))
		rep.Report(progress.PhaseScrape, o.fallback.Label()+" 件数不足のため追加取得を開始", progress.Indeterminate)

		records, stat, err := runSource(ctx, o.fallback, o.fallback.ID()+FallbackSuffix, req, rep, o.observer)
		stats = append(stats, stat)
		if ctx.Err() != nil {
			return Result{SourceStats: stats}, ctx.Err()
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", stat.Source, err))
			rep.Report(progress.PhaseError, fmt.Sprintf("%s 失敗: %v", o.fallback.Label(), err), progress.Indeterminate)
		} else {
			merged = normalize.Dedupe(append(merged, records...))
		}
	}

	if len(merged) == 0 {
		if err := errs.ErrorOrNil(); err != nil {
			return Result{SourceStats: stats}, fmt.Errorf("%w: %w", ErrAllSourcesEmpty, err)
		}
		return Result{SourceStats: stats}, ErrAllSourcesEmpty
	}
	return Result{Records: merged, SourceStats: stats}, nil
}

// runSource invokes one adapter with a labelled reporter, deduplicates its
// output and converts a failure or panic into a SourceStat reported as id.
func runSource(ctx context.Context, a source.Adapter, id string, req source.Request, rep *progress.Reporter, obs Observer) (records []models.FacilityRecord, stat models.SourceStat, err error) {
	start := time.Now()
	stat = models.SourceStat{Source: id, Label: a.Label()}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("source panicked", "source", id, "panic", r)
			records = nil
			err = fmt.Errorf("panic: %v", r)
		}
		switch {
		case err != nil:
			stat.Status = models.SourceError
			stat.Error = err.Error()
			stat.Count = 0
		case len(records) > 0:
			stat.Status = models.SourceOK
			stat.Count = len(records)
		default:
			stat.Status = models.SourceEmpty
		}
		if obs != nil {
			obs.ObserveSource(id, string(stat.Status), stat.Count, time.Since(start))
		}
		slog.Info("source finished", "source", id, "status", stat.Status, "records", stat.Count, "duration", time.Since(start))
	}()

	records, err = a.Fetch(ctx, req, rep.Prefixed(a.Label()))
	if err == nil {
		records = normalize.Dedupe(records)
	}
	return records, stat, err
}
