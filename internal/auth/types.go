package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern: alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Clock returns the current time. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// User is a stored account.
type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	Banned         bool       `json:"banned"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SuspendedAt reports whether a timed suspension is still running at t.
func (u *User) SuspendedAt(t time.Time) bool {
	return u.SuspendedUntil != nil && t.Before(*u.SuspendedUntil)
}

// Principal is the identity behind a validated credential. Role is the
// snapshot taken at login; a role change only applies after re-login.
type Principal struct {
	Username  string
	Role      Role
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Credential is a freshly minted bearer token and the principal it carries.
type Credential struct {
	Token string
	Principal
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("user is banned")
	ErrSuspended          = errors.New("user is suspended")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidRole        = errors.New("invalid role")
	ErrMissingFields      = errors.New("missing fields")
	ErrWeakPassword       = errors.New("password too short")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrKillSwitchActive   = errors.New("kill switch active")
)
