// Package vault holds the single protected payload and hands out its key.
//
// Upload encrypts the plaintext with AES-256-GCM under a fresh 256-bit key
// and a fresh 96-bit nonce. The served ciphertext layout is
//
//	nonce (12 bytes) | tag (16 bytes) | ciphertext
//
// which Decrypt reverses.
//
// IssueKey gives the raw content key to an authorised session for a clamped
// time window and records a grant keyed by the session id. Each grant is
// bound to the fingerprint of the key it was issued from, so replacing the
// content, enabling the kill switch or revoking a session leaves no grant
// that CheckGrant will honour.
//
// Revocation is advisory. Once a client has received the key it can keep
// decrypting the ciphertext it already downloaded; the vault can only refuse
// to re-issue the key and refuse decrypt-support queries for revoked
// sessions. Replacing the content is the only way to make a leaked key
// useless, because the ciphertext it opens is gone.
package vault
