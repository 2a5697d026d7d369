package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports harvest metrics to Prometheus and mirrors timings into a Collector.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry  *prometheus.Registry
	collector *Collector

	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	sourceRecords *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewRecorder registers the harvest metrics on a private registry.
func NewRecorder(collector *Collector) *Recorder {
	if collector == nil {
		collector = NewCollector()
	}
	r := &Recorder{
		registry:  prometheus.NewRegistry(),
		collector: collector,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_jobs_total",
			Help: "Harvest jobs finished, by method and terminal status.",
		}, []string{"method", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_job_duration_seconds",
			Help:    "Wall time of harvest jobs from start to terminal state.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"method"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetch_requests_total",
			Help: "Upstream HTTP attempts by outcome.",
		}, []string{"outcome"}),
		sourceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_source_records_total",
			Help: "Records returned per source adapter run.",
		}, []string{"source", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_queue_depth",
			Help: "Jobs waiting in the queue.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.jobs, r.jobDuration, r.fetches, r.sourceRecords, r.queueDepth,
	)
	return r
}

// Collector returns the in-memory collector fed by this recorder.
func (r *Recorder) Collector() *Collector {
	if r == nil {
		return nil
	}
	return r.collector
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one upstream HTTP attempt.
func (r *Recorder) ObserveFetch(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(outcome).Inc()
	r.collector.RecordTiming(OpFetch, d, outcome != "ok")
}

// ObserveSource records the outcome of one adapter run.
func (r *Recorder) ObserveSource(source, status string, records int, d time.Duration) {
	if r == nil {
		return
	}
	r.sourceRecords.WithLabelValues(source, status).Add(float64(records))
	r.collector.RecordTiming(OpAdapter, d, status == "error")
	r.collector.RecordSource(source, status, records)
}

// ObserveJob records a job reaching a terminal state.
func (r *Recorder) ObserveJob(method, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(method, status).Inc()
	r.jobDuration.WithLabelValues(method).Observe(d.Seconds())
	r.collector.RecordTiming(OpJob, d, status == "failed")
}

// ObserveArchive records one archive write.
func (r *Recorder) ObserveArchive(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.collector.RecordTiming(OpArchive, d, err != nil)
}

// SetQueueDepth publishes the current queue length.
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}
