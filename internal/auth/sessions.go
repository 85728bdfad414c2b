package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL applies when NewSessionStore is given a non-positive TTL.
const DefaultSessionTTL = 30 * time.Minute

type session struct {
	username  string
	role      Role
	tokenID   string
	issuedAt  time.Time
	expiresAt time.Time
}

// SessionStore mints and validates credentials.
//
// A credential is a signed JWT plus a server-side record keyed by its session
// id. The signature proves the token was issued here; the record makes
// revocation before expiry possible.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type SessionStore struct {
	secret []byte
	ttl    time.Duration
	clock  Clock

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore creates an empty store. A nil clock uses time.Now.
func NewSessionStore(secret string, ttl time.Duration, clock Clock) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]*session),
	}
}

// Issue mints a credential for u, snapshotting its role. Callers must have
// already checked the password and CheckLogin.
func (s *SessionStore) Issue(u *User) (Credential, error) {
	// JWT timestamps carry whole seconds; keep the record in step.
	now := s.clock.now().Truncate(time.Second)
	p := Principal{
		Username:  u.Username,
		Role:      u.Role,
		SessionID: uuid.NewString(),
		TokenID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	token, err := signClaims(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ID:        p.TokenID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		Role:      p.Role,
		SessionID: p.SessionID,
	}, s.secret)
	if err != nil {
		return Credential{}, err
	}

	s.mu.Lock()
	s.sessions[p.SessionID] = &session{
		username:  p.Username,
		role:      p.Role,
		tokenID:   p.TokenID,
		issuedAt:  p.IssuedAt,
		expiresAt: p.ExpiresAt,
	}
	s.mu.Unlock()

	return Credential{Token: token, Principal: p}, nil
}

// Validate returns the principal behind token.
//
// It fails with ErrTokenExpired once the expiry has passed, whether or not a
// sweep has run, ErrTokenRevoked when the session record is gone, and
// ErrTokenInvalid for anything that was not issued here.
func (s *SessionStore) Validate(token string) (Principal, error) {
	claims, err := parseClaims(token, s.secret, s.clock)
	if err != nil {
		return Principal{}, err
	}

	now := s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[claims.SessionID]
	if !ok || sess.tokenID != claims.ID {
		return Principal{}, ErrTokenRevoked
	}
	if !now.Before(sess.expiresAt) {
		delete(s.sessions, claims.SessionID)
		return Principal{}, ErrTokenExpired
	}

	return Principal{
		Username:  sess.username,
		Role:      sess.role,
		SessionID: claims.SessionID,
		TokenID:   sess.tokenID,
		IssuedAt:  sess.issuedAt,
		ExpiresAt: sess.expiresAt,
	}, nil
}

// Active reports whether sessionID names an unexpired session.
func (s *SessionStore) Active(sessionID string) bool {
	now := s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	return ok && now.Before(sess.expiresAt)
}

// Revoke invalidates the session behind token. Expired tokens are accepted
// so that logout always succeeds in removing the record.
func (s *SessionStore) Revoke(token string) error {
	claims, err := parseClaims(token, s.secret, s.clock)
	if errors.Is(err, ErrTokenExpired) {
		claims, err = s.parseIgnoringExpiry(token)
	}
	if err != nil {
		return err
	}
	s.RevokeSession(claims.SessionID)
	return nil
}

func (s *SessionStore) parseIgnoringExpiry(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}

// RevokeSession removes one session. It reports whether it existed.
func (s *SessionStore) RevokeSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok
}

// RevokeUser removes every session belonging to username and returns their ids.
func (s *SessionStore) RevokeUser(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []string
	for sid, sess := range s.sessions {
		if sess.username == username {
			delete(s.sessions, sid)
			revoked = append(revoked, sid)
		}
	}
	return revoked
}

// SessionsFor returns the ids of username's live sessions.
func (s *SessionStore) SessionsFor(username string) []string {
	now := s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for sid, sess := range s.sessions {
		if sess.username == username && now.Before(sess.expiresAt) {
			ids = append(ids, sid)
		}
	}
	return ids
}

// SweepExpired drops expired sessions and returns their ids.
func (s *SessionStore) SweepExpired() []string {
	now := s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []string
	for sid, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, sid)
			swept = append(swept, sid)
		}
	}
	return swept
}

// Count returns the number of stored sessions, expired or not.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
