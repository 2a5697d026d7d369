// Package progress carries job progress events from the harvest pipeline to
// the job log and to live subscribers.
package progress

import "strings"

// Indeterminate marks an event without a meaningful percentage.
const Indeterminate = -1

// Phases reported by the pipeline.
const (
	PhaseQueued   = "queued"
	PhaseStart    = "start"
	PhaseDownload = "download"
	PhaseParse    = "parse"
	PhaseScrape   = "scrape"
	PhaseComplete = "complete"
	PhaseError    = "error"
)

// Event is a single progress notification.
type Event struct {
	Phase    string `json:"phase"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// Reporter is the write side of a job's event stream. A nil Reporter discards events.
type Reporter struct {
	ch     chan<- Event
	prefix string
}

// NewReporter wraps ch. The consumer must keep draining ch until the producer is done.
func NewReporter(ch chan<- Event) *Reporter {
	return &Reporter{ch: ch}
}

// Report sends an event.
func (r *Reporter) Report(phase, message string, progress int) {
	if r == nil || r.ch == nil {
		return
	}
	if r.prefix != "" {
		message = r.prefix + " " + message
	}
	r.ch <- Event{Phase: phase, Message: message, Progress: progress}
}

// Prefixed returns a reporter on the same stream that labels every message.
func (r *Reporter) Prefixed(label string) *Reporter {
	if r == nil {
		return nil
	}
	label = strings.TrimSpace(label)
	if r.prefix != "" {
		label = r.prefix + " " + label
	}
	return &Reporter{ch: r.ch, prefix: label}
}
