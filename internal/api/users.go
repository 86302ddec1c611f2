package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/equipwatch-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

type updateUserRequest struct {
	Role     *string `json:"role,omitempty"`
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.creds.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account. The role defaults to viewer.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	role := auth.RoleViewer
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeUserError(w, err)
			return
		}
		role = parsed
	}

	actor := sessionFromContext(r.Context()).Username
	user, err := s.creds.CreateUser(r.Context(), auth.NewUser{
		Username:  req.Username,
		Password:  req.Password,
		Role:      role,
		Email:     req.Email,
		FullName:  req.FullName,
		CreatedBy: actor,
	})
	if err != nil {
		s.logUserError("create user failed", req.Username, err)
		writeUserError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by username.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := s.creds.GetUser(r.Context(), username)
	if err != nil {
		s.logUserError("get user failed", username, err)
		writeUserError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's role, email or full name.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	session := sessionFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	upd := auth.UserUpdate{Email: req.Email, FullName: req.FullName}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeUserError(w, err)
			return
		}
		// Self-protection: cannot change your own role
		if username == session.Username && role != session.Role {
			writeForbidden(w, "cannot change your own role")
			return
		}
		upd.Role = &role
	}

	user, err := s.creds.UpdateUser(r.Context(), username, upd, session.Username)
	if err != nil {
		s.logUserError("update user failed", username, err)
		writeUserError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeactivateUser blocks future logins for a user.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	session := sessionFromContext(r.Context())

	// Self-protection: cannot deactivate yourself
	if username == session.Username {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}

	if err := s.creds.Deactivate(r.Context(), username, session.Username); err != nil {
		s.logUserError("deactivate user failed", username, err)
		writeUserError(w, err)
		return
	}
	s.writeUser(w, r, username)
}

// handleReactivateUser allows a deactivated user to log in again.
func (s *Server) handleReactivateUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	session := sessionFromContext(r.Context())

	if err := s.creds.Reactivate(r.Context(), username, session.Username); err != nil {
		s.logUserError("reactivate user failed", username, err)
		writeUserError(w, err)
		return
	}
	s.writeUser(w, r, username)
}

// handleListUserSessions returns the active sessions of a user.
func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if _, err := s.creds.GetUser(r.Context(), username); err != nil {
		s.logUserError("get user failed", username, err)
		writeUserError(w, err)
		return
	}

	sessions, err := s.sessions.ListUserSessions(r.Context(), username)
	if err != nil {
		s.logger.Error("list sessions failed", "username", username, "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeUserSessions ends every session of a user.
func (s *Server) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if _, err := s.creds.GetUser(r.Context(), username); err != nil {
		s.logUserError("get user failed", username, err)
		writeUserError(w, err)
		return
	}

	n, err := s.sessions.InvalidateUser(r.Context(), username)
	if err != nil {
		s.logger.Error("revoke sessions failed", "username", username, "error", err)
		writeInternalError(w, "failed to revoke sessions")
		return
	}

	s.logger.Info("sessions revoked", "username", username, "count", n,
		"revoked_by", sessionFromContext(r.Context()).Username)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// writeUser responds with the current state of username.
func (s *Server) writeUser(w http.ResponseWriter, r *http.Request, username string) {
	user, err := s.creds.GetUser(r.Context(), username)
	if err != nil {
		s.logUserError("get user failed", username, err)
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// logUserError logs storage faults. Validation failures are the caller's
// problem and are only audited.
func (s *Server) logUserError(msg, username string, err error) {
	if isClientUserError(err) {
		return
	}
	s.logger.Error(msg, "username", username, "error", err)
}
