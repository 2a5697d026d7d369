package models

import "time"

// JobStatus is the lifecycle state of a harvest job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

// Method selects which sources a job consults.
type Method string

const (
	MethodMulti    Method = "multi"
	MethodOpendata Method = "opendata"
	MethodWeb      Method = "web"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodMulti, MethodOpendata, MethodWeb:
		return true
	}
	return false
}

// LogEntry is one line in a job's progress log.
type LogEntry struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
	Phase    string    `json:"phase"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
}

// JobSummary is a compact view of a finished job, used for archiving.
type JobSummary struct {
	ID          string       `json:"id"`
	Method      Method       `json:"method"`
	Regions     []string     `json:"regions"`
	Services    []string     `json:"services"`
	Status      JobStatus    `json:"status"`
	Total       int          `json:"total"`
	SourceStats []SourceStat `json:"sourceStats"`
	CreatedAt   time.Time    `json:"createdAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
}
