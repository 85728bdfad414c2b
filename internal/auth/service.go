package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Service ties accounts to credentials.
//
// Login and every ban-state change run under one mutex together with the
// final ban check and credential issue, so a ban can never land between
// "checked" and "issued". Guard extends the same serialisation to key
// issuance.
type Service struct {
	users    UserRepository
	sessions *SessionStore
	clock    Clock

	mu sync.Mutex
}

// NewService creates a Service. A nil clock uses time.Now.
func NewService(users UserRepository, sessions *SessionStore, clock Clock) *Service {
	return &Service{users: users, sessions: sessions, clock: clock}
}

// Sessions exposes the underlying credential store.
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// Login verifies username and password and mints a credential.
//
// Failures are ErrInvalidCredentials (unknown user or wrong password),
// ErrBanned and ErrSuspended. A suspension whose window has passed is
// cleared in the store before the check.
func (s *Service) Login(ctx context.Context, username, password string) (Credential, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		burnVerify(password)
		return Credential{}, ErrInvalidCredentials
	}
	if err != nil {
		return Credential{}, fmt.Errorf("looking up user: %w", err)
	}

	// Argon2 is slow; verify outside the lock.
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return Credential{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return Credential{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read under the lock: a ban may have landed during verification.
	u, err = s.users.GetByUsername(ctx, username)
	if err != nil {
		return Credential{}, fmt.Errorf("looking up user: %w", err)
	}

	now := s.clock.now()
	if u.SuspendedUntil != nil && !u.SuspendedAt(now) {
		if err := s.users.SetSuspendedUntil(ctx, u.Username, nil); err != nil {
			return Credential{}, fmt.Errorf("clearing elapsed suspension: %w", err)
		}
		u.SuspendedUntil = nil
	}

	if err := CheckLogin(u, now); err != nil {
		return Credential{}, err
	}
	return s.sessions.Issue(u)
}

// Validate checks a bearer token. See SessionStore.Validate.
func (s *Service) Validate(token string) (Principal, error) {
	return s.sessions.Validate(token)
}

// Logout revokes the caller's session.
func (s *Service) Logout(p Principal) {
	s.sessions.RevokeSession(p.SessionID)
}

// Guard runs fn with p's current account record while holding the lock that
// ban and suspend also take. It fails with ErrTokenRevoked if p's session
// ended in the meantime.
func (s *Service) Guard(ctx context.Context, p Principal, fn func(u *User, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessions.Active(p.SessionID) {
		return ErrTokenRevoked
	}
	u, err := s.users.GetByUsername(ctx, p.Username)
	if err != nil {
		return err
	}
	return fn(u, s.clock.now())
}

// GetUser returns the stored account for username.
func (s *Service) GetUser(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

// Ban sets the permanent ban flag and revokes every session the user holds.
// It returns the revoked session ids.
func (s *Service) Ban(ctx context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.users.SetBanned(ctx, username, true); err != nil {
		return nil, err
	}
	return s.sessions.RevokeUser(username), nil
}

// Suspend starts a timed suspension of d and revokes the user's sessions.
// It returns the revoked session ids and the end of the suspension.
func (s *Service) Suspend(ctx context.Context, username string, d time.Duration) ([]string, time.Time, error) {
	if d <= 0 {
		return nil, time.Time{}, fmt.Errorf("suspension must be positive, got %v", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	until := s.clock.now().Add(d)
	if err := s.users.SetSuspendedUntil(ctx, username, &until); err != nil {
		return nil, time.Time{}, err
	}
	return s.sessions.RevokeUser(username), until, nil
}

// ClearElapsedSuspensions removes ended suspensions from the store.
// Login clears them lazily too; this keeps the table tidy.
func (s *Service) ClearElapsedSuspensions(ctx context.Context) (int, error) {
	return s.users.ClearElapsedSuspensions(ctx, s.clock.now())
}

// NewUser describes an account to create.
type NewUser struct {
	Username string
	Password string
	Role     string
}

// CreateUser creates an account on behalf of actor, which must be allowed by
// CanCreateUser. createdBy is recorded for the audit trail.
func (s *Service) CreateUser(ctx context.Context, actor Role, createdBy string, req NewUser) (*User, error) {
	if !CanCreateUser(actor) {
		return nil, ErrForbidden
	}
	return s.createUser(ctx, createdBy, req)
}

// BootstrapUser creates an account without an acting principal. It backs the
// offline "keygate user add" command.
func (s *Service) BootstrapUser(ctx context.Context, req NewUser) (*User, error) {
	return s.createUser(ctx, "", req)
}

func (s *Service) createUser(ctx context.Context, createdBy string, req NewUser) (*User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" || strings.TrimSpace(req.Role) == "" {
		return nil, ErrMissingFields
	}
	if !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if len(req.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedBy:    createdBy,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
