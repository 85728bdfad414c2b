package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/command"
)

type killSwitchRequest struct {
	Enable bool `json:"enable"`
}

type killSwitchResponse struct {
	KillSwitchEnabled bool `json:"killSwitchEnabled"`
	GrantsRevoked     int  `json:"grantsRevoked,omitempty"`
}

// revokeSessionRequest names one session to end. AllGrants additionally
// (or instead) drops every outstanding key grant.
type revokeSessionRequest struct {
	SessionID string `json:"sessionId"`
	AllGrants bool   `json:"allGrants"`
}

type revokeSessionResponse struct {
	OK             bool `json:"ok"`
	SessionRevoked bool `json:"sessionRevoked"`
	GrantRevoked   bool `json:"grantRevoked"`
	GrantsRevoked  int  `json:"grantsRevoked,omitempty"`
}

// handleGetKillSwitch reports the kill switch state.
func (s *Server) handleGetKillSwitch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, killSwitchResponse{KillSwitchEnabled: s.vault.KillSwitchEnabled()})
}

// handleSetKillSwitch flips the kill switch. Owner only. A missing enable
// field turns it off.
func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if !readJSON(w, r, &req) {
		return
	}

	p := principalFromContext(r.Context())
	ctx := command.WithSource(r.Context(), audit.SourceAPI)
	revoked, err := s.router.SetKillSwitch(ctx, p, req.Enable)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, killSwitchResponse{
		KillSwitchEnabled: req.Enable,
		GrantsRevoked:     revoked,
	})
}

// handleRevokeSession ends another session: its credential, key grant,
// presence and sockets. With allGrants it also clears every key grant.
// Owner only.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if !auth.CanRevokeSessions(p.Role) {
		writeForbidden(w, "only the owner may revoke sessions")
		return
	}

	var req revokeSessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" && !req.AllGrants {
		writeError(w, http.StatusBadRequest, ErrCodeMissingFields, "Missing sessionId")
		return
	}

	var resp revokeSessionResponse
	if sid != "" {
		resp.SessionRevoked, resp.GrantRevoked = s.endSession(sid, command.Kicked{Reason: "revoked", By: p.Username})
	}
	if req.AllGrants {
		resp.GrantsRevoked = s.vault.RevokeAll()
	}
	resp.OK = true

	s.audit.Record(audit.Entry{
		Action:     audit.ActionRevokeSession,
		EntityType: audit.EntitySession,
		EntityID:   sid,
		Actor:      p.Username,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"sessionRevoked": resp.SessionRevoked,
			"grantRevoked":   resp.GrantRevoked,
			"grantsRevoked":  resp.GrantsRevoked,
		},
	})
	s.logger.Info("session revoked",
		"by", p.Username,
		"session_found", resp.SessionRevoked,
		"grants_revoked", resp.GrantsRevoked,
	)

	writeJSON(w, http.StatusOK, resp)
}
