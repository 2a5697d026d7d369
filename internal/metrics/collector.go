// Package metrics provides runtime statistics: an in-memory timing collector
// surfaced on the health endpoint and a Prometheus recorder for /metrics.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpFetch   = "fetch"
	OpAdapter = "adapter"
	OpJob     = "job"
	OpArchive = "archive"
)

// timing accumulates durations for one operation. min is zero until the
// first sample.
type timing struct {
	count    int64
	failures int64
	total    time.Duration
	min, max time.Duration
}

func (t *timing) add(d time.Duration, failed bool) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
	if failed {
		t.failures++
	}
}

func (t *timing) snapshot() *OperationSnapshot {
	if t == nil || t.count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       t.count,
		Failures:    t.failures,
		TotalTimeMs: t.total.Milliseconds(),
		AvgTimeMs:   float64(t.total.Milliseconds()) / float64(t.count),
		MinTimeMs:   t.min.Milliseconds(),
		MaxTimeMs:   t.max.Milliseconds(),
	}
}

// OperationSnapshot is the JSON view of one operation's timings.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// SourceSnapshot summarizes every run of one source adapter.
type SourceSnapshot struct {
	Source    string    `json:"source"`
	Runs      int64     `json:"runs"`
	Errors    int64     `json:"errors"`
	Records   int64     `json:"records"`
	LastRunAt time.Time `json:"lastRunAt"`
	LastState string    `json:"lastStatus"`
}

// Snapshot represents the collector state at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Fetch         *OperationSnapshot `json:"fetch,omitempty"`
	Adapter       *OperationSnapshot `json:"adapter,omitempty"`
	Job           *OperationSnapshot `json:"job,omitempty"`
	Archive       *OperationSnapshot `json:"archive,omitempty"`
	Sources       []SourceSnapshot   `json:"sources,omitempty"`
}

// Collector aggregates in-memory runtime statistics. Safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	ops     map[string]*timing
	sources map[string]*SourceSnapshot
	now     func() time.Time
}

// NewCollector creates an empty collector whose uptime starts now.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		ops:     make(map[string]*timing),
		sources: make(map[string]*SourceSnapshot),
		now:     time.Now,
	}
}

// RecordTiming adds one sample for op.
func (c *Collector) RecordTiming(op string, d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.ops[op]
	if !ok {
		t = &timing{}
		c.ops[op] = t
	}
	t.add(d, failed)
}

// RecordSource counts one adapter run under its source name.
func (c *Collector) RecordSource(source, status string, records int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sources[source]
	if !ok {
		s = &SourceSnapshot{Source: source}
		c.sources[source] = s
	}
	s.Runs++
	s.Records += int64(records)
	if status == "error" {
		s.Errors++
	}
	s.LastRunAt = c.now()
	s.LastState = status
}

// Snapshot returns a point-in-time copy. Sources are sorted by name.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Fetch:         c.ops[OpFetch].snapshot(),
		Adapter:       c.ops[OpAdapter].snapshot(),
		Job:           c.ops[OpJob].snapshot(),
		Archive:       c.ops[OpArchive].snapshot(),
	}
	for _, s := range c.sources {
		snap.Sources = append(snap.Sources, *s)
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].Source < snap.Sources[j].Source })
	return snap
}
