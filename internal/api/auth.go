package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// loginRequest is the request body for POST /auth/login. The credentials
// are those of the cloud account things are registered under.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin opens a cloud session. The session token is kept by the
// gateway and never returned to the client.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	if err := s.gw.Login(r.Context(), req.Username, req.Password); err != nil {
		s.writeGatewayError(w, r, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true})
}

// handleLogout ends the cloud session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Logout(); err != nil {
		s.writeGatewayError(w, r, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": false})
}
