package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/azaman/internal/agent"
	"github.com/nugget/azaman/internal/events"
	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/prompts"
	"github.com/nugget/azaman/internal/state"
)

// ChatRequest is one user message. Either UserID or ThreadID names the
// conversation; UserID wins when both are set.
type ChatRequest struct {
	UserID   string `json:"user_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// ChatResponse carries the reply and the thread's full updated history.
type ChatResponse struct {
	RequestID  string                   `json:"request_id"`
	ThreadID   string                   `json:"thread_id"`
	Response   string                   `json:"response"`
	Model      string                   `json:"model"`
	ToolCalls  []string                 `json:"tool_calls,omitempty"`
	Messages   []llm.Message            `json:"messages"`
	State      *state.ConversationState `json:"state"`
	Summarized bool                     `json:"summarized"`
	Usage      Usage                    `json:"usage"`
}

// Usage is the token count of one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SessionRequest names the user opening or closing a session.
type SessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse describes an opened session and greets the user.
type SessionResponse struct {
	Session
	Greeting  string `json:"greeting"`
	Returning bool   `json:"returning"`
}

var errNoConversation = errors.New("user_id or thread_id is required")

// resolveThread maps a request to its thread id. A user id must be well
// formed and binds a session; a bare thread id is used as is.
func (s *Server) resolveThread(userID, threadID string) (string, error) {
	if userID != "" {
		if !state.ValidUserID(userID) {
			return "", errors.New("invalid user_id: want 2-8 letters followed by 2 digits")
		}
		sess, created := s.sessions.Bind(userID)
		if created {
			s.logger.Info("session opened", "user_id", userID, "thread_id", sess.ThreadID)
		}
		return sess.ThreadID, nil
	}
	if threadID != "" {
		return threadID, nil
	}
	return "", errNoConversation
}

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrIterationLimit):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// handleChat runs one turn.
// POST /v1/chat {"user_id": "Blaq01", "message": "I earn 750k naira"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	threadID, err := s.resolveThread(req.UserID, req.ThreadID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	unlock := s.locks.lock(threadID)
	resp, err := s.loop.Run(r.Context(), &agent.Request{ThreadID: threadID, Message: req.Message})
	unlock()
	if err != nil {
		s.logger.Error("turn failed", "thread_id", threadID, "error", err)
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		RequestID:  resp.RequestID,
		ThreadID:   resp.ThreadID,
		Response:   resp.Content,
		Model:      resp.Model,
		ToolCalls:  resp.ToolsUsed,
		Messages:   resp.Messages,
		State:      resp.State,
		Summarized: resp.Summarized,
		Usage: Usage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		},
	}, s.logger)
}

// handleSessionStart opens (or re-opens) a user's session and returns the
// greeting for a new or returning user.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !state.ValidUserID(req.UserID) {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id: want 2-8 letters followed by 2 digits")
		return
	}

	sess, _ := s.sessions.Bind(req.UserID)
	st, err := s.loop.State(r.Context(), sess.ThreadID)
	if err != nil {
		s.logger.Error("session state load failed", "thread_id", sess.ThreadID, "error", err)
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SessionResponse{
		Session:   sess,
		Greeting:  prompts.Greeting(st),
		Returning: !st.IsNewSession(),
	}, s.logger)
}

// handleSessionReset closes a user's session. The thread stays stored.
func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !state.ValidUserID(req.UserID) {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id: want 2-8 letters followed by 2 digits")
		return
	}

	closed := s.sessions.Reset(req.UserID)
	s.logger.Info("session reset via API", "user_id", req.UserID, "was_open", closed)
	if s.bus != nil {
		s.bus.Emit(events.SourceAPI, events.KindSessionReset, map[string]any{
			"user_id":   req.UserID,
			"thread_id": state.ThreadID(req.UserID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":    "ok",
		"user_id":   req.UserID,
		"was_open":  closed,
		"thread_id": state.ThreadID(req.UserID),
	}, s.logger)
}
