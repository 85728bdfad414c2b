package vault

import "errors"

var (
	// ErrNoContent is returned when nothing has been uploaded yet.
	ErrNoContent = errors.New("vault: no content uploaded")

	// ErrMissingPayload is returned for an empty upload.
	ErrMissingPayload = errors.New("vault: missing payload")

	// ErrPayloadTooLarge is returned when an upload exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("vault: payload too large")

	// ErrGrantNotFound is returned when the session holds no grant.
	ErrGrantNotFound = errors.New("vault: no key grant for session")

	// ErrGrantExpired is returned when the grant's window has passed.
	ErrGrantExpired = errors.New("vault: key grant expired")

	// ErrGrantStale is returned when the grant was issued from a key that has
	// since been replaced.
	ErrGrantStale = errors.New("vault: key grant refers to replaced content")

	// ErrMalformedCiphertext is returned by Decrypt for input shorter than
	// the nonce and tag, or that fails authentication.
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")
)
