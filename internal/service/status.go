package service

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
)

// resultPreview caps the records returned inline with a job result.
const resultPreview = 100

// JobStatus is the polling view of a job.
type JobStatus struct {
	JobID            string              `json:"jobId"`
	Method           models.Method       `json:"method"`
	Status           models.JobStatus    `json:"status"`
	QueuePosition    int                 `json:"queuePosition"`
	PrefectureCodes  []string            `json:"prefectureCodes"`
	ServiceTypeIDs   []string            `json:"serviceTypeIds"`
	CreatedAt        time.Time           `json:"createdAt"`
	StartedAt        *time.Time          `json:"startedAt"`
	FinishedAt       *time.Time          `json:"finishedAt"`
	Progress         progress.Event      `json:"progress"`
	Total            int                 `json:"total"`
	AccumulatedTotal int                 `json:"accumulatedTotal"`
	SourceStats      []models.SourceStat `json:"sourceStats"`
	Error            string              `json:"error"`
	LastLogSeq       int                 `json:"lastLogSeq"`
	HasResult        bool                `json:"hasResult"`
	Logs             []models.LogEntry   `json:"logs"`
}

// JobResult is the outcome of a completed job, or the progress of a pending one.
type JobResult struct {
	Success          bool                    `json:"success"`
	JobID            string                  `json:"jobId"`
	Status           models.JobStatus        `json:"status"`
	Total            int                     `json:"total"`
	AccumulatedTotal int                     `json:"accumulatedTotal"`
	SourceStats      []models.SourceStat     `json:"sourceStats"`
	Data             []models.FacilityRecord `json:"data"`
	Progress         *progress.Event         `json:"progress,omitempty"`
}

// Health summarizes the manager for the health endpoint.
type Health struct {
	OK               bool        `json:"ok"`
	Timestamp        time.Time   `json:"timestamp"`
	Scraping         ScrapeState `json:"scraping"`
	Queue            QueueState  `json:"queue"`
	Jobs             JobCounts   `json:"jobs"`
	CurrentDataJobID string      `json:"currentDataJobId"`
}

type ScrapeState struct {
	Running   bool          `json:"running"`
	JobID     string        `json:"jobId,omitempty"`
	Kind      models.Method `json:"kind,omitempty"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
}

type QueueState struct {
	Length int `json:"length"`
}

type JobCounts struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Status returns the polling view of job id. Only log entries with a sequence
// above after are included, and of those at most maxLogs of the newest.
// maxLogs is clamped to [0, MaxJobLogs].
func (m *JobManager) Status(id string, after, maxLogs int) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[strings.TrimSpace(id)]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	st := m.statusLocked(j)
	st.Logs = selectLogs(j.logs, after, min(max(maxLogs, 0), m.opts.MaxJobLogs))
	return st, nil
}

func selectLogs(logs []models.LogEntry, after, limit int) []models.LogEntry {
	after = max(after, 0)
	start := 0
	for start < len(logs) && logs[start].Seq <= after {
		start++
	}
	out := logs[start:]
	if limit == 0 {
		return []models.LogEntry{}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return slices.Clone(out)
}

// statusLocked builds a status view without logs. Caller holds m.mu.
func (m *JobManager) statusLocked(j *job) JobStatus {
	st := JobStatus{
		JobID:            j.id,
		Method:           j.method,
		Status:           j.status,
		PrefectureCodes:  slices.Clone(j.prefCodes),
		ServiceTypeIDs:   slices.Clone(j.serviceIDs),
		CreatedAt:        j.createdAt,
		StartedAt:        timePtr(j.startedAt),
		FinishedAt:       timePtr(j.finishedAt),
		Progress:         j.progress,
		Total:            j.total,
		AccumulatedTotal: len(m.current),
		SourceStats:      slices.Clone(j.sourceStats),
		Error:            j.err,
		LastLogSeq:       j.logSeq,
		HasResult:        j.status == models.JobCompleted,
	}
	if j.status == models.JobQueued {
		st.QueuePosition = slices.Index(m.queue, j.id) + 1
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Result returns the outcome of job id. A job still queued or running yields
// its progress together with ErrJobNotCompleted; a failed job yields ErrJobFailed.
func (m *JobManager) Result(id string) (JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[strings.TrimSpace(id)]
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	res := JobResult{JobID: j.id, Status: j.status}
	switch j.status {
	case models.JobFailed:
		msg := j.err
		if msg == "" {
			msg = "job failed"
		}
		return res, fmt.Errorf("%w: %s", ErrJobFailed, msg)
	case models.JobQueued, models.JobRunning:
		p := j.progress
		res.Progress = &p
		return res, ErrJobNotCompleted
	}

	res.Success = true
	res.Total = j.total
	res.AccumulatedTotal = len(m.current)
	res.SourceStats = slices.Clone(j.sourceStats)
	res.Data = slices.Clone(j.records[:min(len(j.records), resultPreview)])
	return res, nil
}

// ListJobs returns every stored job without logs, newest first.
func (m *JobManager) ListJobs() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, m.statusLocked(j))
	}
	slices.SortFunc(out, func(a, b JobStatus) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Health reports queue and job counts.
func (m *JobManager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		OK:               true,
		Timestamp:        time.Now(),
		Queue:            QueueState{Length: len(m.queue)},
		CurrentDataJobID: m.currentJobID,
	}
	if j, ok := m.jobs[m.running]; ok && m.running != "" {
		h.Scraping = ScrapeState{Running: true, JobID: j.id, Kind: j.method, StartedAt: timePtr(j.startedAt)}
	}
	h.Jobs.Total = len(m.jobs)
	for _, j := range m.jobs {
		switch j.status {
		case models.JobQueued:
			h.Jobs.Queued++
		case models.JobRunning:
			h.Jobs.Running++
		case models.JobCompleted:
			h.Jobs.Completed++
		case models.JobFailed:
			h.Jobs.Failed++
		}
	}
	return h
}
