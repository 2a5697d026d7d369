package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/kaigo-harvest/internal/db"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// ArchiveReader reads the optional dataset archive. *db.Client satisfies it.
type ArchiveReader interface {
	ListArchivedJobs(ctx context.Context, limit int) ([]db.ArchivedJob, error)
	CountFacilities(ctx context.Context, prefecture string) (int, error)
}

type archivedJob struct {
	JobID       string           `json:"jobId"`
	Method      string           `json:"method"`
	Prefectures []string         `json:"prefectureCodes"`
	Services    []string         `json:"serviceTypeIds"`
	Status      string           `json:"status"`
	Total       int              `json:"total"`
	SourceStats []map[string]any `json:"sourceStats"`
	CreatedAt   time.Time        `json:"createdAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	ArchivedAt  time.Time        `json:"archivedAt"`
}

func (s *Server) handleArchivedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.opts.Archive.ListArchivedJobs(r.Context(), intParam(r.URL.Query().Get("limit"), 20))
	if err != nil {
		s.logger.Error("list archived jobs failed", "error", err)
		writeError(w, http.StatusBadGateway, "archive unavailable")
		return
	}

	out := make([]archivedJob, 0, len(jobs))
	for _, j := range jobs {
		id, err := models.RecordIDString(j.ID)
		if err != nil {
			id = fmt.Sprint(j.ID.ID)
		}
		out = append(out, archivedJob{
			JobID:       id,
			Method:      j.Method,
			Prefectures: j.Regions,
			Services:    j.Services,
			Status:      j.Status,
			Total:       j.Total,
			SourceStats: j.SourceStats,
			CreatedAt:   j.Created,
			FinishedAt:  j.Finished,
			ArchivedAt:  j.Archived,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleArchiveCount(w http.ResponseWriter, r *http.Request) {
	pref := strings.TrimSpace(r.URL.Query().Get("prefecture"))
	n, err := s.opts.Archive.CountFacilities(r.Context(), pref)
	if err != nil {
		s.logger.Error("count archived facilities failed", "prefecture", pref, "error", err)
		writeError(w, http.StatusBadGateway, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefecture": pref, "count": n})
}
