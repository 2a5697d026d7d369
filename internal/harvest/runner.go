package harvest

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

// MethodLabel is the human readable name of a harvest method used in job logs.
func MethodLabel(m models.Method) string {
	switch m {
	case models.MethodMulti:
		return "複数ソース取得"
	case models.MethodOpendata:
		return "公式オープンデータ取得"
	case models.MethodWeb:
		return "Webスクレイピング"
	}
	return string(m)
}

// Runner dispatches a job's method to the matching source composition.
type Runner struct {
	multi     *Orchestrator
	catalog   source.Adapter
	directory source.Adapter
	observer  Observer
}

// Sources bundles the three adapters a Runner composes.
type Sources struct {
	Catalog   source.Adapter
	Secondary source.Adapter
	Directory source.Adapter
}

// NewRunner creates a runner over srcs. observer may be nil.
func NewRunner(srcs Sources, coverage Coverage, observer Observer) *Runner {
	return &Runner{
		multi:     NewOrchestrator([]source.Adapter{srcs.Catalog, srcs.Secondary}, srcs.Directory, coverage, observer),
		catalog:   srcs.Catalog,
		directory: srcs.Directory,
		observer:  observer,
	}
}

// Run executes method for req.
func (r *Runner) Run(ctx context.Context, method models.Method, req source.Request, rep *progress.Reporter) (Result, error) {
	switch method {
	case models.MethodMulti:
		return r.multi.Run(ctx, req, rep)
	case models.MethodOpendata:
		return r.single(ctx, r.catalog, req, rep)
	case models.MethodWeb:
		return r.single(ctx, r.directory, req, rep)
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

// single runs one adapter on its own. An empty result is a failure.
func (r *Runner) single(ctx context.Context, a source.Adapter, req source.Request, rep *progress.Reporter) (Result, error) {
	records, stat, err := runSource(ctx, a, a.ID(), req, rep, r.observer)
	stats := []models.SourceStat{stat}
	if err != nil {
		return Result{SourceStats: stats}, err
	}
	if len(records) == 0 {
		return Result{SourceStats: stats}, fmt.Errorf("%w: %s returned no records for the selection", ErrAllSourcesEmpty, a.ID())
	}
	return Result{Records: records, SourceStats: stats}, nil
}
