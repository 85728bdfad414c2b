// Package api provides the HTTP API and WebSocket channel for keygate.
//
// Routes are served by chi under /api, plus the raw ciphertext at /content
// and the real-time channel at /ws. Every route except health and login
// requires a bearer credential; owner-only operations are decided by the
// policy functions in package auth, never by the router.
//
// Lifecycle:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
