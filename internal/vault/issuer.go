package vault

import (
	"time"

	"github.com/nerrad567/keygate/internal/auth"
)

// KeyRequest asks for the content key on behalf of an authenticated session.
// User is the account's current record, read by the caller under the auth
// service lock so a concurrent ban cannot slip between check and issue.
type KeyRequest struct {
	Principal auth.Principal
	User      *auth.User
	// TTL is the requested lifetime; zero means the configured default.
	TTL time.Duration
}

// IssuedKey is the raw content key and the window it is granted for.
type IssuedKey struct {
	Key       []byte
	KeyID     string
	TTL       time.Duration
	ExpiresAt time.Time
}

// Grant records that a session was handed the key identified by KeyID.
type Grant struct {
	SessionID string    `json:"-"`
	Username  string    `json:"username"`
	Role      auth.Role `json:"role"`
	KeyID     string    `json:"keyId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ClampTTL maps a requested lifetime into the configured bounds. Zero or
// negative selects the default.
func (v *Vault) ClampTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = v.cfg.DefaultTTL
	}
	if v.cfg.MinTTL > 0 && ttl < v.cfg.MinTTL {
		ttl = v.cfg.MinTTL
	}
	if v.cfg.MaxTTL > 0 && ttl > v.cfg.MaxTTL {
		ttl = v.cfg.MaxTTL
	}
	return ttl
}

// IssueKey hands the content key to req's session and records the grant,
// replacing any earlier grant for that session. Checks run in order: content
// present, kill switch, ban, suspension.
func (v *Vault) IssueKey(req KeyRequest) (IssuedKey, error) {
	ttl := v.ClampTTL(req.TTL)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil {
		return IssuedKey{}, ErrNoContent
	}
	now := v.clock()
	if err := auth.CheckKeyIssue(req.Principal.Role, req.User, v.killSwitch, now); err != nil {
		return IssuedKey{}, err
	}

	g := Grant{
		SessionID: req.Principal.SessionID,
		Username:  req.Principal.Username,
		Role:      req.Principal.Role,
		KeyID:     v.current.keyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	v.grants[g.SessionID] = g

	key := make([]byte, len(v.current.key))
	copy(key, v.current.key)
	return IssuedKey{
		Key:       key,
		KeyID:     g.KeyID,
		TTL:       ttl,
		ExpiresAt: g.ExpiresAt,
	}, nil
}

// CheckGrant returns the live grant held by sessionID. An expired grant is
// removed as it is found.
func (v *Vault) CheckGrant(sessionID string) (Grant, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	g, ok := v.grants[sessionID]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	if !v.clock().Before(g.ExpiresAt) {
		delete(v.grants, sessionID)
		return Grant{}, ErrGrantExpired
	}
	if v.current == nil || v.current.keyID != g.KeyID {
		delete(v.grants, sessionID)
		return Grant{}, ErrGrantStale
	}
	return g, nil
}

// RevokeGrant drops the grant for one session.
func (v *Vault) RevokeGrant(sessionID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.grants[sessionID]
	delete(v.grants, sessionID)
	return ok
}

// RevokeGrants drops the grants for every listed session and returns how
// many existed.
func (v *Vault) RevokeGrants(sessionIDs []string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for _, sid := range sessionIDs {
		if _, ok := v.grants[sid]; ok {
			delete(v.grants, sid)
			n++
		}
	}
	return n
}

// RevokeAll clears every grant.
func (v *Vault) RevokeAll() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := len(v.grants)
	clear(v.grants)
	return n
}

// SweepGrants removes expired grants and returns how many were dropped.
func (v *Vault) SweepGrants() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock()
	n := 0
	for sid, g := range v.grants {
		if !now.Before(g.ExpiresAt) {
			delete(v.grants, sid)
			n++
		}
	}
	return n
}

// GrantCount returns the number of recorded grants, expired or not.
func (v *Vault) GrantCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.grants)
}
