package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// CreateHuntRequest is the body of POST /api/hunts
type CreateHuntRequest struct {
	Targets []string `json:"targets"`
}

// handleCreateHunt handles POST /api/hunts
func (s *Server) handleCreateHunt(w http.ResponseWriter, r *http.Request) {
	var req CreateHuntRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	session, err := s.sessions.CreateHunt(r.Context(), req.Targets)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, session.View())
}

// handleGetHunt handles GET /api/hunts/{id}
func (s *Server) handleGetHunt(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetHunt(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// handleCreateAudit handles POST /api/audits. The body is ignored.
func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.CreateAudit(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, session.View())
}

// handleGetAudit handles GET /api/audits/{id}
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetAudit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// handleCancelAudit handles POST /api/audits/{id}/cancel
func (s *Server) handleCancelAudit(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.CancelAudit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}
