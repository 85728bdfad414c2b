package api

import (
	"context"
	"time"

	"github.com/nerrad567/keygate/internal/command"
)

// defaultSweepInterval applies when presence.sweep_interval is unset.
const defaultSweepInterval = 30 * time.Second

// sweepResult counts what one sweep removed.
type sweepResult struct {
	grants      int
	sessions    int
	stale       int
	orphaned    int
	suspensions int
}

// sweepLoop runs sweep periodically until ctx is cancelled.
func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.presCfg.SweepDuration()
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep drops expired key grants, expired sessions, stale presence and
// presence left behind by ended sessions, and clears elapsed suspensions. Validation re-checks expiry on its own, so
// sweep timing only bounds memory, never correctness.
func (s *Server) sweep(ctx context.Context) sweepResult {
	var res sweepResult

	res.grants = s.vault.SweepGrants()

	expired := s.auth.Sessions().SweepExpired()
	res.sessions = len(expired)
	presenceChanged := false
	if len(expired) > 0 {
		s.hub.DisconnectSessions(expired, command.Kicked{Reason: "expired"})
		s.vault.RevokeGrants(expired)
		for _, sid := range expired {
			if s.registry.Remove(sid) {
				presenceChanged = true
			}
		}
	}

	if stale := s.presCfg.StaleDuration(); stale > 0 {
		removed := s.registry.SweepStale(stale)
		res.stale = len(removed)
		if len(removed) > 0 {
			presenceChanged = true
		}
	}

	// Entries whose session ended without a matching Remove.
	for _, entry := range s.registry.ListOnline() {
		if s.auth.Sessions().Active(entry.Identity) {
			continue
		}
		if s.registry.Remove(entry.Identity) {
			res.orphaned++
			presenceChanged = true
		}
	}

	if presenceChanged {
		s.router.BroadcastPresence()
	}

	n, err := s.auth.ClearElapsedSuspensions(ctx)
	if err != nil {
		s.logger.Warn("clearing elapsed suspensions failed", "error", err)
	}
	res.suspensions = n

	s.influx.WriteOnlineCount(s.registry.Len())

	if res != (sweepResult{}) {
		s.logger.Debug("sweep complete",
			"grants", res.grants,
			"sessions", res.sessions,
			"stale_presence", res.stale,
			"orphaned_presence", res.orphaned,
			"suspensions", res.suspensions,
		)
	}
	return res
}
