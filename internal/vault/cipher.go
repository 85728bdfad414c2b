package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	// KeySize is the content key length (AES-256).
	KeySize = 32

	nonceSize = 12
	tagSize   = 16

	// keyIDSize is the number of fingerprint bytes kept (hex-encoded).
	keyIDSize = 16
)

// keyIDDomain separates key fingerprints from any other keyed hash use.
var keyIDDomain = []byte("keygate content key id v1")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// encrypt generates a fresh key and nonce and returns the key with the
// nonce|tag|ciphertext blob.
func encrypt(plaintext []byte) (key, blob []byte, err error) {
	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	// Seal yields ciphertext|tag; move the tag in front of the ciphertext.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob = make([]byte, 0, nonceSize+tagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return key, blob, nil
}

// Decrypt opens a nonce|tag|ciphertext blob with key.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrMalformedCiphertext, KeySize)
	}
	if len(blob) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCiphertext, len(blob))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ct := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

// fingerprint returns a keyed BLAKE3 digest identifying key without
// revealing it.
func fingerprint(key []byte) (string, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return "", fmt.Errorf("fingerprinting key: %w", err)
	}
	h.Write(keyIDDomain) //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(h.Sum(nil)[:keyIDSize]), nil
}
