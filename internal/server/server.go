// Package server exposes the job manager over HTTP: JSON endpoints, file
// export, and live progress over SSE and WebSocket.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
)

// Options tunes the live progress streams and the optional archive routes.
type Options struct {
	// KeepAlive is the interval between SSE comments and WebSocket pings.
	KeepAlive time.Duration
	// Archive, when set, enables the read-only /api/archive routes.
	Archive ArchiveReader
}

// Server routes HTTP requests to the job manager.
type Server struct {
	jobs     *service.JobManager
	hub      *progress.Hub
	recorder *metrics.Recorder
	logger   *slog.Logger
	opts     Options

	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a server. hub and recorder may be nil, which disables the
// progress streams and /metrics respectively.
func New(jobs *service.JobManager, hub *progress.Hub, recorder *metrics.Recorder, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	s := &Server{
		jobs:     jobs,
		hub:      hub,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	s.mux.HandleFunc("POST /api/scrape/{method}", s.handleSubmit)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	s.mux.HandleFunc("GET /api/jobs/{id}/result", s.handleJobResult)

	s.mux.HandleFunc("GET /api/data", s.handleData)
	s.mux.HandleFunc("DELETE /api/data", s.handleDeleteData)
	s.mux.HandleFunc("GET /api/export/{format}", s.handleExport)

	s.mux.HandleFunc("GET /api/progress", s.handleSSE)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	s.mux.HandleFunc("GET /api/prefectures", s.handlePrefectures)
	s.mux.HandleFunc("GET /api/service-types", s.handleServiceTypes)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.opts.Archive != nil {
		s.mux.HandleFunc("GET /api/archive/jobs", s.handleArchivedJobs)
		s.mux.HandleFunc("GET /api/archive/facilities/count", s.handleArchiveCount)
	}
	if s.recorder != nil {
		s.mux.Handle("GET /metrics", s.recorder.Handler())
	}
}

// Handler returns the routed handler wrapped in recovery, CORS and request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(CORSMiddleware(RecoverMiddleware(s.logger)(s.mux)))
}
