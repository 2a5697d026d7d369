package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

const DefaultPageLimit = 50

// DataQuery selects a page of records.
type DataQuery struct {
	JobID  string
	Page   int
	Limit  int
	Search string
}

// DataPage is one page of a record listing.
type DataPage struct {
	JobID      string                  `json:"jobId,omitempty"`
	Data       []models.FacilityRecord `json:"data"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	TotalPages int                     `json:"totalPages"`
}

// Records returns the records of job jobID, or the published dataset when
// jobID is empty, along with the id of the job they came from.
func (m *JobManager) Records(jobID string) ([]models.FacilityRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordsLocked(strings.TrimSpace(jobID))
}

func (m *JobManager) recordsLocked(jobID string) ([]models.FacilityRecord, string, error) {
	if jobID == "" {
		return slices.Clone(m.current), m.currentJobID, nil
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if j.status != models.JobCompleted {
		return nil, "", fmt.Errorf("%w: %s (%s)", ErrJobNotCompleted, jobID, j.status)
	}
	return slices.Clone(j.records), jobID, nil
}

// Query returns one page of records matching q.Search. Search is a
// case-insensitive substring match over name, address, operator name,
// prefecture and user count.
func (m *JobManager) Query(q DataQuery) (DataPage, error) {
	records, jobID, err := m.Records(q.JobID)
	if err != nil {
		return DataPage{}, err
	}
	return Paginate(Filter(records, q.Search), q.Page, q.Limit, jobID), nil
}

// Filter keeps records whose searchable fields contain search.
func Filter(records []models.FacilityRecord, search string) []models.FacilityRecord {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return records
	}
	out := make([]models.FacilityRecord, 0, len(records))
	for _, r := range records {
		for _, field := range []string{r.Name, r.Address, r.OperatorName, r.Region, r.UserCount} {
			if strings.Contains(strings.ToLower(field), search) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Paginate slices records into 1-based pages. Non-positive page and limit use
// 1 and DefaultPageLimit.
func Paginate(records []models.FacilityRecord, page, limit int, jobID string) DataPage {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	start := min((page-1)*limit, len(records))
	end := min(start+limit, len(records))
	return DataPage{
		JobID:      jobID,
		Data:       slices.Clone(records[start:end]),
		Total:      len(records),
		Page:       page,
		Limit:      limit,
		TotalPages: (len(records) + limit - 1) / limit,
	}
}

// DeleteRecords clears the records of job jobID, and the published dataset if
// that job backs it. An empty jobID clears only the published dataset.
func (m *JobManager) DeleteRecords(jobID string) error {
	jobID = strings.TrimSpace(jobID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if jobID == "" {
		m.current = nil
		m.currentJobID = ""
		return nil
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.records = nil
	j.total = 0
	j.sourceStats = nil
	if m.currentJobID == jobID {
		m.current = nil
		m.currentJobID = ""
	}
	return nil
}
