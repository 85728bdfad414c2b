package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/command"
	"github.com/nerrad567/keygate/internal/presence"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type heartbeatRequest struct {
	Version string `json:"version"`
}

// onlineEntry is one row of GET /api/online. SessionID is only filled in
// for callers allowed to revoke sessions.
type onlineEntry struct {
	presence.Entry
	SessionID string `json:"sessionId,omitempty"`
}

// handleLogin authenticates a user, issues a credential and marks the
// session online.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeMissingFields, "username and password are required")
		return
	}

	cred, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		reason := loginFailureReason(err)
		s.influx.WriteLogin(reason)
		if reason != "" {
			s.audit.Record(audit.Entry{
				Action:     audit.ActionLoginFailed,
				EntityType: audit.EntityUser,
				EntityID:   req.Username,
				Source:     audit.SourceAPI,
				Details:    map[string]any{"reason": reason},
			})
		}
		s.writeDomainError(w, err)
		return
	}

	s.influx.WriteLogin("")
	s.audit.Record(audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: audit.EntitySession,
		EntityID:   cred.SessionID,
		Actor:      cred.Username,
		Source:     audit.SourceAPI,
	})
	s.logger.Info("user logged in", "username", cred.Username, "role", cred.Role)

	if s.registry.RecordHeartbeat(cred.SessionID, cred.Username, cred.Role, presence.DefaultVersion) {
		s.router.BroadcastPresence()
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     cred.Token,
		Username:  cred.Username,
		Role:      cred.Role,
		ExpiresAt: cred.ExpiresAt,
	})
}

// loginFailureReason returns a short code for a rejected login, or "" for
// errors that are not a rejection.
func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return ErrCodeInvalidCredentials
	case errors.Is(err, auth.ErrBanned):
		return ErrCodeBanned
	case errors.Is(err, auth.ErrSuspended):
		return ErrCodeSuspended
	}
	return ""
}

// handleLogout ends the caller's session: credential, key grant, presence
// and any sockets opened with it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	s.endSession(p.SessionID, command.Kicked{Reason: "logout", By: p.Username})

	s.audit.Record(audit.Entry{
		Action:     audit.ActionLogout,
		EntityType: audit.EntitySession,
		EntityID:   p.SessionID,
		Actor:      p.Username,
		Source:     audit.SourceAPI,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// endSession revokes a session everywhere it has state. It reports whether
// the credential and the grant existed.
func (s *Server) endSession(sessionID string, notice command.Kicked) (sessionRevoked, grantRevoked bool) {
	sessionRevoked = s.auth.Sessions().RevokeSession(sessionID)
	grantRevoked = s.vault.RevokeGrant(sessionID)
	s.hub.DisconnectSessions([]string{sessionID}, notice)
	if s.registry.Remove(sessionID) {
		s.router.BroadcastPresence()
	}
	return sessionRevoked, grantRevoked
}

// handleHeartbeat refreshes the caller's presence entry.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !readJSON(w, r, &req) {
		return
	}
	p := principalFromContext(r.Context())
	if s.registry.RecordHeartbeat(p.SessionID, p.Username, p.Role, strings.TrimSpace(req.Version)) {
		s.router.BroadcastPresence()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleOnline lists live presence entries in the order they came online.
func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	showSessions := auth.CanRevokeSessions(p.Role)

	entries := s.registry.ListOnline()
	out := make([]onlineEntry, 0, len(entries))
	for _, e := range entries {
		oe := onlineEntry{Entry: e}
		if showSessions {
			oe.SessionID = e.Identity
		}
		out = append(out, oe)
	}
	writeJSON(w, http.StatusOK, out)
}
