// Package source implements the upstream registry adapters. Each adapter
// turns a prefecture/service selection into canonical facility records.
package source

import (
	"context"
	"math"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
)

// Adapter retrieves facility data from one class of upstream source.
type Adapter interface {
	// ID is the stable identifier recorded in SourceStat.
	ID() string
	// Label prefixes progress messages emitted on the adapter's behalf.
	Label() string
	// Fetch returns deduplicated canonical records. Per-resource failures are
	// reported as progress and skipped; an error means the whole source failed.
	Fetch(ctx context.Context, req Request, rep *progress.Reporter) ([]models.FacilityRecord, error)
}

// Request is the resolved selection a job asks for.
type Request struct {
	Prefectures []reference.Prefecture
	Services    []reference.ServiceType
}

// NewRequest resolves codes and ids against the reference tables.
func NewRequest(prefectureCodes, serviceIDs []string) Request {
	return Request{
		Prefectures: reference.PrefecturesByCodes(prefectureCodes),
		Services:    reference.ServiceTypesByIDs(serviceIDs),
	}
}

// PrefectureCodes returns the selected prefecture codes.
func (r Request) PrefectureCodes() []string {
	out := make([]string, len(r.Prefectures))
	for i, p := range r.Prefectures {
		out[i] = p.Code
	}
	return out
}

// ServiceIDs returns the selected service type ids.
func (r Request) ServiceIDs() []string {
	out := make([]string, len(r.Services))
	for i, s := range r.Services {
		out[i] = s.ID
	}
	return out
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
