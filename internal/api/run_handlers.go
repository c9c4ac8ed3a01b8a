package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
	"github.com/customeros/customeros-sub005/internal/scheduler"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type submitRunRequest struct {
	Tenant      string          `json:"tenant"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	TriggeredBy string          `json:"triggered_by"`
}

// submitRun handles POST /v1/runs. Valid submissions return 202 with the new
// run id; validation failures return 400.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	runID, err := s.sched.Submit(r.Context(), scheduler.SubmitRequest{
		Tenant:      req.Tenant,
		UserID:      req.UserID,
		Type:        automation.RunType(req.Type),
		Payload:     req.Payload,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
		TriggeredBy: automation.TriggeredBy(req.TriggeredBy),
	})
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrInvalidType),
			errors.Is(err, automation.ErrInvalidPayload),
			errors.Is(err, automation.ErrInvalidSchedule):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("submit run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit run")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// cancelRun handles POST /v1/runs/{run_id}/cancel. Cancelling an already
// cancelled run is idempotent; any other terminal run returns 409.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.sched.Cancel(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, automation.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("cancel run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// listRuns handles GET /v1/runs?status=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *automation.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseRunStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	runs, err := s.runs.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// listRunResults handles GET /v1/runs/{run_id}/results.
func (s *Server) listRunResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !s.runExists(w, r, runID) {
		return
	}
	results, err := s.results.ListResults(r.Context(), runID)
	if err != nil {
		s.logger.Error("list run results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []automation.RunResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// listRunErrors handles GET /v1/runs/{run_id}/errors.
func (s *Server) listRunErrors(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !s.runExists(w, r, runID) {
		return
	}
	runErrs, err := s.results.ListErrors(r.Context(), runID)
	if err != nil {
		s.logger.Error("list run errors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	if runErrs == nil {
		runErrs = []automation.RunError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": runErrs})
}

func (s *Server) runExists(w http.ResponseWriter, r *http.Request, runID string) bool {
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return false
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return false
	}
	return true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// parseRunStatus accepts the exact stored enum strings.
func parseRunStatus(input string) (automation.RunStatus, error) {
	status := automation.RunStatus(strings.ToUpper(input))
	switch status {
	case automation.RunStatusScheduled,
		automation.RunStatusRunning,
		automation.RunStatusRetrying,
		automation.RunStatusCompleted,
		automation.RunStatusProcessed,
		automation.RunStatusFailed,
		automation.RunStatusCancelled:
		return status, nil
	default:
		return "", errors.New("invalid status")
	}
}
