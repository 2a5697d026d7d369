// Package service owns the harvest job lifecycle: queueing, the single worker,
// per-job logs, and the published dataset.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/kaigo-harvest/internal/harvest"
	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/normalize"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job is not completed yet")
	ErrJobFailed       = errors.New("job failed")
	ErrInvalidRequest  = errors.New("invalid request")
)

const (
	DefaultMaxStoredJobs   = 30
	DefaultMaxJobLogs      = 400
	DefaultMaxServiceTypes = 4
	DefaultStatusLogs      = 80

	eventBuffer    = 256
	archiveTimeout = 30 * time.Second
)

// Harvester runs one harvest method. *harvest.Runner satisfies it.
type Harvester interface {
	Run(ctx context.Context, method models.Method, req source.Request, rep *progress.Reporter) (harvest.Result, error)
}

// Archiver stores a completed job's records outside the process.
type Archiver interface {
	ArchiveJob(ctx context.Context, job models.JobSummary, records []models.FacilityRecord) error
}

// Options configures a JobManager. Zero values take the defaults.
type Options struct {
	MaxStoredJobs   int
	MaxJobLogs      int
	MaxServiceTypes int
	Hub             *progress.Hub
	Archiver        Archiver
	Recorder        *metrics.Recorder
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	Method              models.Method `json:"method"`
	PrefectureCodes     []string      `json:"prefectureCodes"`
	ServiceTypeIDs      []string      `json:"serviceTypeIds"`
	AppendToCurrentData bool          `json:"appendToCurrentData"`
	ResetCurrentData    bool          `json:"resetCurrentData"`
}

// Submitted acknowledges an accepted job.
type Submitted struct {
	Accepted      bool             `json:"accepted"`
	JobID         string           `json:"jobId"`
	Status        models.JobStatus `json:"status"`
	QueuePosition int              `json:"queuePosition"`
	PollURL       string           `json:"pollUrl"`
	ResultURL     string           `json:"resultUrl"`
}

// job is the manager-owned state of one harvest request. All fields are
// guarded by JobManager.mu.
type job struct {
	id         string
	method     models.Method
	request    source.Request
	prefCodes  []string
	serviceIDs []string
	appendData bool
	resetData  bool

	status     models.JobStatus
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	logs     []models.LogEntry
	logSeq   int
	progress progress.Event

	records     []models.FacilityRecord
	total       int
	sourceStats []models.SourceStat
	err         string
}

// JobManager queues harvest jobs and executes them one at a time.
type JobManager struct {
	harvester Harvester
	opts      Options

	mu           sync.Mutex
	jobs         map[string]*job
	queue        []string
	running      string
	current      []models.FacilityRecord
	currentJobID string

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewJobManager creates a manager. Call Start to begin processing.
func NewJobManager(h Harvester, opts Options) *JobManager {
	if opts.MaxStoredJobs <= 0 {
		opts.MaxStoredJobs = DefaultMaxStoredJobs
	}
	if opts.MaxJobLogs <= 0 {
		opts.MaxJobLogs = DefaultMaxJobLogs
	}
	if opts.MaxServiceTypes <= 0 {
		opts.MaxServiceTypes = DefaultMaxServiceTypes
	}
	return &JobManager{
		harvester: h,
		opts:      opts,
		jobs:      make(map[string]*job),
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the worker. It stops when ctx is done; a running job sees
// the cancellation through its context.
func (m *JobManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.work(ctx)
	}()
}

// Wait blocks until the worker started by Start has returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Submit validates req and queues a job. It never waits for the job to run.
func (m *JobManager) Submit(req SubmitRequest) (Submitted, error) {
	if req.Method == "" {
		req.Method = models.MethodMulti
	}
	if !req.Method.Valid() {
		return Submitted{}, fmt.Errorf("%w: method は multi / opendata / web のいずれかを指定してください。", ErrInvalidRequest)
	}
	resolved := source.NewRequest(req.PrefectureCodes, req.ServiceTypeIDs)
	if len(resolved.Prefectures) == 0 {
		return Submitted{}, fmt.Errorf("%w: 都道府県を選択してください。", ErrInvalidRequest)
	}
	if len(resolved.Services) == 0 {
		return Submitted{}, fmt.Errorf("%w: サービス種別を選択してください。", ErrInvalidRequest)
	}
	if len(req.ServiceTypeIDs) > m.opts.MaxServiceTypes {
		return Submitted{}, fmt.Errorf("%w: serviceTypeIds must be %d or fewer", ErrInvalidRequest, m.opts.MaxServiceTypes)
	}

	m.mu.Lock()
	j := &job{
		id:         m.newID(),
		method:     req.Method,
		request:    resolved,
		prefCodes:  resolved.PrefectureCodes(),
		serviceIDs: resolved.ServiceIDs(),
		appendData: req.AppendToCurrentData,
		resetData:  req.ResetCurrentData,
		status:     models.JobQueued,
		createdAt:  time.Now(),
		progress:   progress.Event{Phase: progress.PhaseQueued, Message: "ジョブをキューに登録しました"},
	}
	m.jobs[j.id] = j
	m.queue = append(m.queue, j.id)
	position := len(m.queue)
	m.trimFinishedLocked()
	m.opts.Recorder.SetQueueDepth(len(m.queue))
	// Logged before unlocking so the worker's start entry always follows it.
	queued := m.appendLogLocked(j, progress.Event{
		Phase:   progress.PhaseQueued,
		Message: harvest.MethodLabel(j.method) + " ジョブを受け付けました",
	})
	m.mu.Unlock()

	m.publish(queued)
	slog.Info("job queued", "job_id", j.id, "method", j.method,
		"prefectures", j.prefCodes, "services", j.serviceIDs, "position", position)

	select {
	case m.wake <- struct{}{}:
	default:
	}

	return Submitted{
		Accepted:      true,
		JobID:         j.id,
		Status:        models.JobQueued,
		QueuePosition: position,
		PollURL:       "/api/jobs/" + j.id,
		ResultURL:     "/api/jobs/" + j.id + "/result",
	}, nil
}

// newID returns a short unused job id. Caller holds m.mu.
func (m *JobManager) newID() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := m.jobs[id]; !taken {
			return id
		}
	}
}

func (m *JobManager) work(ctx context.Context) {
	for {
		for {
			j := m.dequeue()
			if j == nil {
				break
			}
			m.execute(ctx, j)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

func (m *JobManager) dequeue() *job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		m.opts.Recorder.SetQueueDepth(len(m.queue))
		if j, ok := m.jobs[id]; ok && j.status == models.JobQueued {
			return j
		}
	}
	return nil
}

// execute runs j to a terminal state. Progress events flow from the harvest
// through a channel into the job log; the channel is drained before the job
// is finalized so the log is complete when status flips.
func (m *JobManager) execute(ctx context.Context, j *job) {
	m.mu.Lock()
	j.status = models.JobRunning
	j.startedAt = time.Now()
	j.err = ""
	m.running = j.id
	m.mu.Unlock()

	slog.Info("job started", "job_id", j.id, "method", j.method)
	m.appendLog(j, progress.Event{Phase: progress.PhaseStart, Message: harvest.MethodLabel(j.method) + " を開始します..."})

	events := make(chan progress.Event, eventBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			m.appendLog(j, ev)
		}
	}()

	result, err := m.invoke(ctx, j, progress.NewReporter(events))
	close(events)
	<-drained

	if err != nil {
		m.fail(j, err, result.SourceStats)
	} else {
		m.complete(ctx, j, result)
	}

	m.mu.Lock()
	m.running = ""
	m.trimFinishedLocked()
	m.mu.Unlock()
}

// invoke runs the harvester, converting a panic into an error.
func (m *JobManager) invoke(ctx context.Context, j *job, rep *progress.Reporter) (result harvest.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job_id", j.id, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
		}
	}()
	return m.harvester.Run(ctx, j.method, j.request, rep)
}

func (m *JobManager) complete(ctx context.Context, j *job, result harvest.Result) {
	m.mu.Lock()
	j.records = result.Records
	j.total = len(result.Records)
	j.sourceStats = result.SourceStats
	j.status = models.JobCompleted
	j.finishedAt = time.Now()

	if j.resetData {
		m.current = nil
		m.currentJobID = ""
	}
	if j.appendData {
		m.current = normalize.Dedupe(append(slices.Clone(m.current), j.records...))
	} else {
		m.current = j.records
	}
	m.currentJobID = j.id
	accumulated := len(m.current)
	summary := j.summary()
	m.mu.Unlock()

	m.appendLog(j, progress.Event{
		Phase:    progress.PhaseComplete,
		Message:  fmt.Sprintf("取得完了: %d件", summary.Total),
		Progress: 100,
	})
	slog.Info("job completed", "job_id", j.id, "records", summary.Total, "accumulated", accumulated)
	m.opts.Recorder.ObserveJob(string(j.method), string(models.JobCompleted), summary.FinishedAt.Sub(j.startedAt))

	if m.opts.Archiver != nil {
		m.archive(ctx, summary, result.Records)
	}
}

func (m *JobManager) fail(j *job, err error, stats []models.SourceStat) {
	m.mu.Lock()
	j.status = models.JobFailed
	j.finishedAt = time.Now()
	j.err = err.Error()
	j.sourceStats = stats
	elapsed := j.finishedAt.Sub(j.startedAt)
	m.mu.Unlock()

	m.appendLog(j, progress.Event{Phase: progress.PhaseError, Message: "エラー: " + err.Error()})
	slog.Error("job failed", "job_id", j.id, "error", err)
	m.opts.Recorder.ObserveJob(string(j.method), string(models.JobFailed), elapsed)
}

func (m *JobManager) archive(ctx context.Context, summary models.JobSummary, records []models.FacilityRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	start := time.Now()
	err := m.opts.Archiver.ArchiveJob(ctx, summary, records)
	m.opts.Recorder.ObserveArchive(time.Since(start), err)
	if err != nil {
		slog.Warn("archive failed", "job_id", summary.ID, "error", err)
		return
	}
	slog.Debug("job archived", "job_id", summary.ID, "records", len(records))
}

// appendLog records ev on j and forwards it to live subscribers.
func (m *JobManager) appendLog(j *job, ev progress.Event) {
	m.mu.Lock()
	msg := m.appendLogLocked(j, ev)
	m.mu.Unlock()
	m.publish(msg)
}

// appendLogLocked records ev in j's log ring and returns the stream frame for
// it. Caller holds m.mu.
func (m *JobManager) appendLogLocked(j *job, ev progress.Event) progress.Message {
	if ev.Phase == "" {
		ev.Phase = progress.PhaseScrape
	}

	j.logSeq++
	entry := models.LogEntry{
		Seq:      j.logSeq,
		Time:     time.Now(),
		Phase:    ev.Phase,
		Message:  ev.Message,
		Progress: ev.Progress,
	}
	j.logs = append(j.logs, entry)
	if over := len(j.logs) - m.opts.MaxJobLogs; over > 0 {
		j.logs = slices.Delete(j.logs, 0, over)
	}
	j.progress = ev
	return progress.Message{
		JobID:    j.id,
		Status:   string(j.status),
		Phase:    entry.Phase,
		Message:  entry.Message,
		Progress: entry.Progress,
		Seq:      entry.Seq,
		Time:     entry.Time,
	}
}

func (m *JobManager) publish(msg progress.Message) {
	if m.opts.Hub != nil {
		m.opts.Hub.Publish(msg)
	}
}

// trimFinishedLocked evicts the oldest finished jobs while more than
// MaxStoredJobs are stored. Queued and running jobs and the job backing the
// published dataset are never evicted. Caller holds m.mu.
func (m *JobManager) trimFinishedLocked() {
	if len(m.jobs) <= m.opts.MaxStoredJobs {
		return
	}
	var candidates []*job
	for _, j := range m.jobs {
		if j.status.Finished() && j.id != m.currentJobID {
			candidates = append(candidates, j)
		}
	}
	slices.SortFunc(candidates, func(a, b *job) int {
		return a.finishedAt.Compare(b.finishedAt)
	})
	for _, j := range candidates {
		if len(m.jobs) <= m.opts.MaxStoredJobs {
			break
		}
		delete(m.jobs, j.id)
		slog.Debug("job evicted", "job_id", j.id)
	}
}

func (j *job) summary() models.JobSummary {
	return models.JobSummary{
		ID:          j.id,
		Method:      j.method,
		Regions:     slices.Clone(j.prefCodes),
		Services:    slices.Clone(j.serviceIDs),
		Status:      j.status,
		Total:       j.total,
		SourceStats: slices.Clone(j.sourceStats),
		CreatedAt:   j.createdAt,
		FinishedAt:  j.finishedAt,
	}
}
