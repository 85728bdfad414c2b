// Package presence tracks which principals are connected right now.
//
// Presence is soft state maintained by heartbeats. An entry is keyed by
// connection identity, which in keygate is the credential's session id, so
// every socket and HTTP call made with one credential refreshes the same
// entry. An entry that misses heartbeats for longer than the staleness window
// is swept, independent of credential expiry.
package presence
