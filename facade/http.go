package facade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerflow/workflow/errs"
)

// Server adapts a Facade to chi-routed HTTP handlers implementing the
// external interface: POST /chat, the approval/status/checkpoint
// endpoints scoped under /workflow/{session_id}, GET /approvals/pending,
// GET /sessions, and GET /health.
type Server struct {
	facade *Facade
}

// NewServer builds the chi router for a Facade.
func NewServer(f *Facade) http.Handler {
	s := &Server{facade: f}
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Post("/workflow/{session_id}/approve", s.handleApprove)
	r.Get("/workflow/{session_id}/status", s.handleStatus)
	r.Get("/workflow/{session_id}/checkpoints", s.handleCheckpoints)
	r.Get("/approvals/pending", s.handlePendingApprovals)
	r.Get("/sessions", s.handleListSessions)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "malformed chat request: "+err.Error()))
		return
	}
	if req.Message == "" {
		writeError(w, errs.Validation("message", "message is required"))
		return
	}

	resp, err := s.facade.Chat(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "malformed approval request: "+err.Error()))
		return
	}
	if req.ApproverID == "" {
		writeError(w, errs.Validation("approver_id", "approver_id is required"))
		return
	}

	resp, err := s.facade.Approve(r.Context(), sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	resp, err := s.facade.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	resp, err := s.facade.ListCheckpoints(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	resp, err := s.facade.PendingApprovals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	resp, err := s.facade.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders any error in the errs taxonomy per its HTTP
// status class (§7). A raw error that isn't an *errs.Error defaults to
// a 500, same as errs.KindOf's KindStorage default.
func writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Storage("", err.Error(), err)
	}
	writeJSON(w, e.Kind.HTTPStatus(), map[string]string{
		"error": e.Message,
		"kind":  string(e.Kind),
	})
}
