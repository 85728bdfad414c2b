package api

import (
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/vault"
)

type uploadRequest struct {
	Payload string `json:"payload"`
}

type uploadResponse struct {
	OK            bool   `json:"ok"`
	KeyID         string `json:"keyId"`
	Size          int    `json:"size"`
	GrantsRevoked int    `json:"grantsRevoked"`
}

type getKeyRequest struct {
	TTLSeconds *int `json:"ttlSeconds"`
}

type getKeyResponse struct {
	Key        string    `json:"key"`
	KeyID      string    `json:"keyId"`
	TTLSeconds int       `json:"ttlSeconds"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type grantResponse struct {
	Valid     bool      `json:"valid"`
	KeyID     string    `json:"keyId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Reasons reported by POST /api/authorize.
const (
	authorizeKillSwitch = "kill-switch"
	authorizeBanned     = "banned"
	authorizeSuspended  = "suspended"
)

type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// handleUploadContent encrypts a new payload and replaces the current
// content. Owner only; every outstanding key grant is dropped.
func (s *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if !auth.CanUpload(p.Role) {
		writeForbidden(w, "only the owner may upload content")
		return
	}

	var req uploadRequest
	if !readJSON(w, r, &req) {
		return
	}

	info, err := s.vault.Upload(p.Role, []byte(req.Payload))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.audit.Record(audit.Entry{
		Action:     audit.ActionUpload,
		EntityType: audit.EntityContent,
		EntityID:   info.KeyID,
		Actor:      p.Username,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"size":          info.PlaintextSize,
			"grantsRevoked": info.GrantsRevoked,
		},
	})
	s.logger.Info("content uploaded",
		"key_id", info.KeyID,
		"size", info.PlaintextSize,
		"grants_revoked", info.GrantsRevoked,
	)

	writeJSON(w, http.StatusOK, uploadResponse{
		OK:            true,
		KeyID:         info.KeyID,
		Size:          info.PlaintextSize,
		GrantsRevoked: info.GrantsRevoked,
	})
}

// handleContent serves the raw nonce|tag|ciphertext blob.
func (s *Server) handleContent(w http.ResponseWriter, _ *http.Request) {
	blob, err := s.vault.Ciphertext()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(blob) //nolint:errcheck,gosec // Best-effort write; connection may be closed
}

// handleGetKey issues the content key to the caller's session. The account
// is re-read under the auth service lock so a ban landing concurrently is
// either seen here or revokes the grant afterwards.
func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	var req getKeyRequest
	if !readJSON(w, r, &req) {
		return
	}
	var requested time.Duration
	if req.TTLSeconds != nil {
		if *req.TTLSeconds < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "ttlSeconds must not be negative")
			return
		}
		requested = secondsToDuration(*req.TTLSeconds)
	}

	p := principalFromContext(r.Context())
	var key vault.IssuedKey
	err := s.auth.Guard(r.Context(), p, func(u *auth.User, _ time.Time) error {
		var err error
		key, err = s.vault.IssueKey(vault.KeyRequest{Principal: p, User: u, TTL: requested})
		return err
	})
	if err != nil {
		s.recordKeyDenied(p, err)
		s.writeDomainError(w, err)
		return
	}

	s.influx.WriteKeyIssue(string(p.Role), key.TTL, "")
	writeJSON(w, http.StatusOK, getKeyResponse{
		Key:        base64.StdEncoding.EncodeToString(key.Key),
		KeyID:      key.KeyID,
		TTLSeconds: int(key.TTL / time.Second),
		ExpiresAt:  key.ExpiresAt,
	})
}

// secondsToDuration converts n seconds, saturating at the largest
// time.Duration instead of wrapping. Callers clamp the result.
func secondsToDuration(n int) time.Duration {
	if int64(n) > math.MaxInt64/int64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * time.Second
}

func (s *Server) recordKeyDenied(p auth.Principal, err error) {
	var reason string
	switch {
	case errors.Is(err, vault.ErrNoContent):
		reason = ErrCodeNoContent
	case errors.Is(err, auth.ErrKillSwitchActive):
		reason = ErrCodeKillSwitchActive
	case errors.Is(err, auth.ErrBanned):
		reason = ErrCodeBanned
	case errors.Is(err, auth.ErrSuspended):
		reason = ErrCodeSuspended
	default:
		return
	}

	s.influx.WriteKeyIssue(string(p.Role), 0, reason)
	if reason == ErrCodeNoContent {
		return
	}
	s.audit.Record(audit.Entry{
		Action:     audit.ActionKeyDenied,
		EntityType: audit.EntitySession,
		EntityID:   p.SessionID,
		Actor:      p.Username,
		Source:     audit.SourceAPI,
		Details:    map[string]any{"reason": reason},
	})
}

// handleGrant reports whether the caller's key grant is still honoured.
// Clients use it before decrypting with a cached key.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	g, err := s.vault.CheckGrant(p.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse{
		Valid:     true,
		KeyID:     g.KeyID,
		IssuedAt:  g.IssuedAt,
		ExpiresAt: g.ExpiresAt,
	})
}

// handleAuthorize is a pre-flight for get-key: it reports whether the
// caller would be allowed a key right now, and why not.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	killSwitch := s.vault.KillSwitchEnabled()

	var decision error
	err := s.auth.Guard(r.Context(), p, func(u *auth.User, now time.Time) error {
		decision = auth.CheckKeyIssue(p.Role, u, killSwitch, now)
		return nil
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := authorizeResponse{Allowed: decision == nil}
	switch {
	case errors.Is(decision, auth.ErrKillSwitchActive):
		resp.Reason = authorizeKillSwitch
	case errors.Is(decision, auth.ErrBanned):
		resp.Reason = authorizeBanned
	case errors.Is(decision, auth.ErrSuspended):
		resp.Reason = authorizeSuspended
	case decision != nil:
		s.writeDomainError(w, decision)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
