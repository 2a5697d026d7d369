package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/export"
	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// reason strips the sentinel prefix from a wrapped service error.
func reason(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if m := r.PathValue("method"); m != "" {
		req.Method = models.Method(m)
	}

	sub, err := s.jobs.Submit(req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, reason(err, service.ErrInvalidRequest))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.ListJobs()})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := intParam(q.Get("after"), 0)
	maxLogs := intParam(q.Get("maxLogs"), service.DefaultStatusLogs)

	st, err := s.jobs.Status(r.PathValue("id"), after, maxLogs)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Result(r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrJobFailed):
		writeJSON(w, http.StatusConflict, map[string]any{
			"jobId":  res.JobID,
			"status": res.Status,
			"error":  reason(err, service.ErrJobFailed),
		})
	case errors.Is(err, service.ErrJobNotCompleted):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"jobId":    res.JobID,
			"status":   res.Status,
			"progress": res.Progress,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// recordsError answers a failed record lookup for jobID.
func (s *Server) recordsError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrJobNotCompleted):
		body := map[string]any{"error": "job is not completed yet: " + jobID}
		if st, serr := s.jobs.Status(jobID, 0, 0); serr == nil {
			body["status"] = st.Status
		}
		writeJSON(w, http.StatusConflict, body)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID := strings.TrimSpace(q.Get("jobId"))
	page, err := s.jobs.Query(service.DataQuery{
		JobID:  jobID,
		Page:   intParam(q.Get("page"), 1),
		Limit:  intParam(q.Get("limit"), service.DefaultPageLimit),
		Search: q.Get("search"),
	})
	if err != nil {
		s.recordsError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	if err := s.jobs.DeleteRecords(jobID); err != nil {
		s.recordsError(w, jobID, err)
		return
	}
	if jobID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": jobID})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	records, _, err := s.jobs.Records(jobID)
	if err != nil {
		s.recordsError(w, jobID, err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "エクスポートするデータがありません。")
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		s.logger.Error("export failed", "format", format, "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handlePrefectures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prefectures": reference.Prefectures(),
		"regions":     reference.Regions(),
	})
}

func (s *Server) handleServiceTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"serviceTypes": reference.ServiceTypes()})
}

type healthResponse struct {
	service.Health
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Health: s.jobs.Health()}
	if c := s.recorder.Collector(); c != nil {
		snap := c.Snapshot()
		resp.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// intParam parses a query integer, returning def when absent or malformed.
func intParam(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
