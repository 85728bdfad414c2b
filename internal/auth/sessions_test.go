package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestStore(clock *fakeClock) *SessionStore {
	return NewSessionStore(testSecret, 30*time.Minute, clock.Now)
}

func issueFor(t *testing.T, s *SessionStore, username string, role Role) Credential {
	t.Helper()
	cred, err := s.Issue(&User{Username: username, Role: role})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return cred
}

func TestSessionStore_IssueAndValidate(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	cred := issueFor(t, store, "alice", RolePro)
	if cred.Token == "" || cred.SessionID == "" || cred.TokenID == "" {
		t.Fatalf("incomplete credential: %+v", cred)
	}
	if !cred.ExpiresAt.Equal(clock.Now().Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", cred.ExpiresAt)
	}

	p, err := store.Validate(cred.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.Username != "alice" || p.Role != RolePro || p.SessionID != cred.SessionID {
		t.Errorf("Validate() = %+v", p)
	}
}

func TestSessionStore_ExpiresWithoutSweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	cred := issueFor(t, store, "alice", RoleMember)

	clock.Advance(30*time.Minute - time.Second)
	if _, err := store.Validate(cred.Token); err != nil {
		t.Fatalf("Validate() one second before expiry error = %v", err)
	}

	clock.Advance(time.Second)
	if _, err := store.Validate(cred.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() at expiry error = %v, want ErrTokenExpired", err)
	}
	if _, err := store.Validate(cred.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestSessionStore_RoleIsSnapshotted(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	u := &User{Username: "bob", Role: RoleMember}
	cred, err := store.Issue(u)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	u.Role = RoleOwner

	p, err := store.Validate(cred.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.Role != RoleMember {
		t.Errorf("Role = %s, want member snapshot", p.Role)
	}
}

func TestSessionStore_InvalidTokens(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	cred := issueFor(t, store, "alice", RoleMember)

	other := NewSessionStore("a-completely-different-secret-value-123", time.Minute, clock.Now)
	foreign := issueFor(t, other, "alice", RoleMember)

	// Same secret, but the role claim is not a keygate role.
	forged, err := signClaims(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ID:        "jti",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
		Role:      "admin",
		SessionID: cred.SessionID,
	}, []byte(testSecret))
	if err != nil {
		t.Fatalf("signClaims() error = %v", err)
	}

	tests := map[string]string{
		"garbage":       "not-a-jwt",
		"empty":         "",
		"wrong secret":  foreign.Token,
		"tampered":      cred.Token + "x",
		"unknown role":  forged,
		"alg none-like": strings.Join([]string{"eyJhbGciOiJub25lIn0", "e30", ""}, "."),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Validate(token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestSessionStore_Revoke(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	cred := issueFor(t, store, "alice", RoleMember)

	if err := store.Revoke(cred.Token); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := store.Validate(cred.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Validate() after Revoke error = %v, want ErrTokenRevoked", err)
	}
	if store.Active(cred.SessionID) {
		t.Error("revoked session still active")
	}
}

func TestSessionStore_RevokeExpiredToken(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	cred := issueFor(t, store, "alice", RoleMember)

	clock.Advance(time.Hour)
	if err := store.Revoke(cred.Token); err != nil {
		t.Fatalf("Revoke() of expired token error = %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}

func TestSessionStore_RevokeUser(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	a1 := issueFor(t, store, "alice", RoleMember)
	a2 := issueFor(t, store, "alice", RoleMember)
	b := issueFor(t, store, "bob", RoleMember)

	if got := store.SessionsFor("alice"); len(got) != 2 {
		t.Fatalf("SessionsFor(alice) = %v, want 2 sessions", got)
	}

	revoked := store.RevokeUser("alice")
	if len(revoked) != 2 {
		t.Errorf("RevokeUser() revoked %d sessions, want 2", len(revoked))
	}
	for _, tok := range []string{a1.Token, a2.Token} {
		if _, err := store.Validate(tok); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("alice token still valid: %v", err)
		}
	}
	if _, err := store.Validate(b.Token); err != nil {
		t.Errorf("bob's token affected: %v", err)
	}
}

func TestSessionStore_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(testSecret, time.Minute, clock.Now)

	issueFor(t, store, "alice", RoleMember)
	clock.Advance(30 * time.Second)
	fresh := issueFor(t, store, "bob", RoleMember)
	clock.Advance(30 * time.Second)

	swept := store.SweepExpired()
	if len(swept) != 1 {
		t.Fatalf("SweepExpired() swept %d, want 1", len(swept))
	}
	if swept[0] == fresh.SessionID {
		t.Error("swept the unexpired session")
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestNewSessionStore_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(testSecret, 0, clock.Now)
	cred := issueFor(t, store, "alice", RoleMember)

	if got := cred.ExpiresAt.Sub(cred.IssuedAt); got != DefaultSessionTTL {
		t.Errorf("TTL = %v, want %v", got, DefaultSessionTTL)
	}
}
