package api

import (
	"net/http"
	"time"

	"github.com/nugget/azaman/internal/prompts"
	"github.com/nugget/azaman/internal/state"
)

// threadFromPath accepts either a user id or a thread id.
func threadFromPath(id string) string {
	if state.ValidUserID(id) {
		return state.ThreadID(id)
	}
	return id
}

// handleState returns a thread's current state without changing it.
// GET /v1/state/{id}
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	threadID := threadFromPath(r.PathValue("id"))

	st, err := s.loop.State(r.Context(), threadID)
	if err != nil {
		s.logger.Error("state load failed", "thread_id", threadID, "error", err)
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"state":     st,
		"remaining": st.Remaining(),
		"greeting":  prompts.Greeting(st),
	}, s.logger)
}

// handleStateHistory lists saved versions, newest first.
// GET /v1/state/{id}/history?limit=20
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	threadID := threadFromPath(r.PathValue("id"))
	limit := parseIntParam(r, "limit", 20)

	versions, err := s.loop.History(r.Context(), threadID, limit)
	if err != nil {
		s.logger.Error("history load failed", "thread_id", threadID, "error", err)
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	if versions == nil {
		versions = []state.VersionInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"thread_id": threadID,
		"versions":  versions,
	}, s.logger)
}

// handleUsage reports token usage and cost over a trailing window.
// GET /v1/usage?hours=24
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	end := time.Now().Add(time.Second)
	start := end.Add(-time.Duration(hours) * time.Hour)

	ctx := r.Context()
	total, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byPurpose, err := s.usage.SummaryByPurpose(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":      hours,
		"start":      start.UTC().Format(time.RFC3339),
		"end":        end.UTC().Format(time.RFC3339),
		"total":      total,
		"by_model":   byModel,
		"by_purpose": byPurpose,
	}, s.logger)
}
