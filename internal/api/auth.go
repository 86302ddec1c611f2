package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int       `json:"expires_in"`
	Username    string    `json:"username"`
	Role        auth.Role `json:"role"`
}

// changePasswordRequest is the request body for POST /auth/password.
type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// authorizeRequest is the request body for POST /auth/authorize.
type authorizeRequest struct {
	Permission auth.Permission `json:"permission"`
}

// meResponse describes the caller's account and session.
type meResponse struct {
	User        *auth.User        `json:"user"`
	Session     *auth.Session     `json:"session"`
	Permissions []auth.Permission `json:"permissions"`
}

// handleLogin authenticates a user and returns a session token.
//
// Unknown users, wrong passwords and inactive accounts all answer 401
// "invalid credentials".
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	// Empty fields go through Authenticate like any other bad credential so
	// the attempt is audited and answered the same way.
	session, err := s.creds.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInactiveUser) {
			writeUnauthorized(w, msgInvalidCredentials)
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		ExpiresIn:   int(session.ExpiresAt.Sub(session.CreatedAt).Seconds()),
		Username:    session.Username,
		Role:        session.Role,
	})
}

// handleLogout revokes the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Invalidate(r.Context(), tokenFromContext(r.Context())); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's account, session and permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	user, err := s.creds.GetUser(r.Context(), session.Username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "authentication required")
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:        user,
		Session:     session,
		Permissions: s.access.PermissionsFor(session.Role),
	})
}

// handleChangePassword replaces the caller's password after verifying the
// old one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "old_password and new_password are required")
		return
	}

	session := sessionFromContext(r.Context())
	err := s.creds.ChangePassword(r.Context(), session.Username, req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveUser):
		writeUnauthorized(w, msgInvalidCredentials)
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeValidationError(w, "new password is too short")
	default:
		s.logger.Error("change password failed", "username", session.Username, "error", err)
		writeInternalError(w, "internal server error")
	}
}

// handleAuthorize checks a single permission against the caller's session.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidPermission(req.Permission) {
		writeValidationError(w, "unknown permission")
		return
	}

	if err := s.access.Authorize(r.Context(), sessionFromContext(r.Context()), req.Permission); err != nil {
		writeForbidden(w, msgInsufficientPermissions)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":    true,
		"permission": req.Permission,
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the bearer token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	ticket, err := s.tickets.issue(session, time.Now())
	if err != nil {
		s.logger.Error("ticket generation failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	username  string
	role      auth.Role
	tokenHash string // session the ticket was issued from
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// issue creates a ticket bound to session.
func (t *ticketStore) issue(session *auth.Session, now time.Time) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		username:  session.Username,
		role:      session.Role,
		tokenHash: session.TokenHash,
		expiresAt: now.Add(ticketTTL),
	}
	t.mu.Unlock()
	return ticket, nil
}

// consume checks a ticket and removes it whether or not it has expired.
func (t *ticketStore) consume(ticket string, now time.Time) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)

	if !now.Before(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// cleanExpired removes expired tickets from the store.
func (t *ticketStore) cleanExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired(now)
		}
	}
}
