package harvest

import (
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// Coverage decides whether the slow directory source should supplement the
// catalog sources.
type Coverage struct {
	// MinRecords is the absolute floor on the expected record count.
	MinRecords int
	// PerCell is the expected record count per prefecture and service pair.
	PerCell int
	// MinUserCountRatio is the share of records that must carry a user count.
	MinUserCountRatio float64
}

// DefaultCoverage returns the thresholds used in production.
func DefaultCoverage() Coverage {
	return Coverage{MinRecords: 250, PerCell: 12, MinUserCountRatio: 0.20}
}

// Expected returns the record count below which coverage is insufficient.
func (c Coverage) Expected(regions, services int) int {
	return max(c.MinRecords, regions*services*c.PerCell)
}

// NeedsSupplement reports whether records under-cover the requested matrix,
// either by count or by the share of records with a user count.
func (c Coverage) NeedsSupplement(records []models.FacilityRecord, regions, services int) bool {
	if len(records) < c.Expected(regions, services) {
		return true
	}
	return UserCountRatio(records) < c.MinUserCountRatio
}

// UserCountRatio returns the fraction of records with a non-empty user count.
func UserCountRatio(records []models.FacilityRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	n := 0
	for _, r := range records {
		if strings.TrimSpace(r.UserCount) != "" {
			n++
		}
	}
	return float64(n) / float64(len(records))
}
