package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
)

// Config bounds uploads and issued key lifetimes.
type Config struct {
	MinTTL     time.Duration
	MaxTTL     time.Duration
	DefaultTTL time.Duration
	MaxPayload int
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.VaultConfig) Config {
	return Config{
		MinTTL:     time.Duration(c.MinKeyTTL) * time.Second,
		MaxTTL:     time.Duration(c.MaxKeyTTL) * time.Second,
		DefaultTTL: time.Duration(c.DefaultKeyTTL) * time.Second,
		MaxPayload: c.MaxPayloadSize,
	}
}

// DefaultConfig matches the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		MinTTL:     5 * time.Second,
		MaxTTL:     300 * time.Second,
		DefaultTTL: 15 * time.Second,
		MaxPayload: 5 << 20,
	}
}

// ContentInfo describes the current blob without exposing its key.
type ContentInfo struct {
	KeyID          string    `json:"keyId"`
	PlaintextSize  int       `json:"plaintextSize"`
	CiphertextSize int       `json:"ciphertextSize"`
	UploadedAt     time.Time `json:"uploadedAt"`
	// GrantsRevoked is the number of grants cleared by the upload.
	GrantsRevoked int `json:"grantsRevoked"`
}

type content struct {
	key        []byte
	blob       []byte
	keyID      string
	plainSize  int
	uploadedAt time.Time
}

// Vault owns the encrypted blob, the grants issued against its key and the
// kill switch. All three share one mutex.
type Vault struct {
	cfg   Config
	clock func() time.Time

	mu         sync.Mutex
	current    *content
	grants     map[string]Grant
	killSwitch bool
}

// New creates an empty vault with the kill switch off.
//
// Parameters:
//   - cfg: TTL bounds and payload limit; a zero bound or limit is not enforced
//   - clock: Time source for grant expiry; nil uses time.Now
//
// Returns:
//   - *Vault: Ready for use; safe for concurrent use
func New(cfg Config, clock func() time.Time) *Vault {
	if clock == nil {
		clock = time.Now
	}
	return &Vault{
		cfg:    cfg,
		clock:  clock,
		grants: make(map[string]Grant),
	}
}

// Upload encrypts plaintext under a fresh key and makes it the current
// content. Every outstanding grant is cleared in the same step.
func (v *Vault) Upload(actor auth.Role, plaintext []byte) (ContentInfo, error) {
	if !auth.CanUpload(actor) {
		return ContentInfo{}, auth.ErrForbidden
	}
	if len(plaintext) == 0 {
		return ContentInfo{}, ErrMissingPayload
	}
	if v.cfg.MaxPayload > 0 && len(plaintext) > v.cfg.MaxPayload {
		return ContentInfo{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(plaintext), v.cfg.MaxPayload)
	}

	key, blob, err := encrypt(plaintext)
	if err != nil {
		return ContentInfo{}, fmt.Errorf("encrypting content: %w", err)
	}
	keyID, err := fingerprint(key)
	if err != nil {
		return ContentInfo{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	c := &content{
		key:        key,
		blob:       blob,
		keyID:      keyID,
		plainSize:  len(plaintext),
		uploadedAt: v.clock(),
	}
	v.current = c
	revoked := len(v.grants)
	clear(v.grants)

	return c.info(revoked), nil
}

// Ciphertext returns a copy of the current nonce|tag|ciphertext blob.
func (v *Vault) Ciphertext() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil {
		return nil, ErrNoContent
	}
	out := make([]byte, len(v.current.blob))
	copy(out, v.current.blob)
	return out, nil
}

// Info describes the current content. ok is false before the first upload.
func (v *Vault) Info() (info ContentInfo, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil {
		return ContentInfo{}, false
	}
	return v.current.info(0), true
}

// SetKillSwitch flips the global kill switch. Enabling it clears every grant
// in the same step. It returns the number of grants cleared.
func (v *Vault) SetKillSwitch(actor auth.Role, enable bool) (int, error) {
	if !auth.CanToggleKillSwitch(actor) {
		return 0, auth.ErrForbidden
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.killSwitch = enable
	if !enable {
		return 0, nil
	}
	revoked := len(v.grants)
	clear(v.grants)
	return revoked, nil
}

// KillSwitchEnabled reports the kill switch state.
func (v *Vault) KillSwitchEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.killSwitch
}

func (c *content) info(revoked int) ContentInfo {
	return ContentInfo{
		KeyID:          c.keyID,
		PlaintextSize:  c.plainSize,
		CiphertextSize: len(c.blob),
		UploadedAt:     c.uploadedAt,
		GrantsRevoked:  revoked,
	}
}
