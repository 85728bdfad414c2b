// Package auth provides authentication and authorisation for keygate.
//
// It implements a 4-tier role model (member < pro < moderator < owner) with:
//   - Argon2id password hashing
//   - HS256 JWT credentials backed by a server-side session record, so a
//     credential can be revoked before it expires
//   - Permanent bans and timed suspensions that expire lazily at login
//   - A single policy file (policy.go) holding every authorisation decision
//
// Credential roles are snapshotted at login. Promoting or demoting a user
// takes effect on their next login.
package auth
