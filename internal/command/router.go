package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
)

// maxTimeoutSeconds is the longest timeout whose duration fits in a
// time.Duration.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Deps holds the router's collaborators. Audit and Telemetry are optional.
type Deps struct {
	Hub       Hub
	Presence  Presence
	Accounts  Accounts
	Sessions  Sessions
	Keys      Keys
	Audit     *audit.Recorder
	Telemetry Telemetry
	Logger    *logging.Logger
	Clock     func() time.Time
}

// Router validates and executes privileged commands.
type Router struct {
	hub       Hub
	presence  Presence
	accounts  Accounts
	sessions  Sessions
	keys      Keys
	audit     *audit.Recorder
	telemetry Telemetry
	logger    *logging.Logger
	clock     func() time.Time

	mu sync.Mutex
}

// New creates a Router from deps.
//
// Hub, Presence, Accounts, Sessions and Keys are required. Audit and
// Telemetry may be nil; a nil Logger discards, a nil Clock uses time.Now.
//
// Parameters:
//   - deps: Collaborators the router consults and mutates
//
// Returns:
//   - *Router: Ready to dispatch; safe for concurrent use
//   - error: If a required collaborator is missing
func New(deps Deps) (*Router, error) {
	switch {
	case deps.Hub == nil:
		return nil, errors.New("command router: hub is required")
	case deps.Presence == nil:
		return nil, errors.New("command router: presence registry is required")
	case deps.Accounts == nil:
		return nil, errors.New("command router: accounts are required")
	case deps.Sessions == nil:
		return nil, errors.New("command router: session store is required")
	case deps.Keys == nil:
		return nil, errors.New("command router: vault is required")
	}

	r := &Router{
		hub:       deps.Hub,
		presence:  deps.Presence,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		keys:      deps.Keys,
		audit:     deps.Audit,
		telemetry: deps.Telemetry,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	r.logger = r.logger.With("component", "command")
	if r.clock == nil {
		r.clock = time.Now
	}
	return r, nil
}

// target is a resolved command target.
type target struct {
	username string
	role     auth.Role
	// sessions are the connection identities the target resolved to: the
	// single identity named, or every identity the username holds.
	sessions []string
}

// Dispatch runs cmd on behalf of sender and always returns an Ack.
func (r *Router) Dispatch(ctx context.Context, sender auth.Principal, cmd Command) Ack {
	r.mu.Lock()
	reason := r.dispatch(ctx, sender, cmd)
	r.mu.Unlock()

	ack := Ack{ID: cmd.ID, OK: reason == "", Reason: reason}
	r.record(sender, cmd, ack)
	return ack
}

func (r *Router) dispatch(ctx context.Context, sender auth.Principal, cmd Command) string {
	if !r.senderValid(sender) {
		return ReasonUnauthorized
	}
	if !auth.CanCommand(sender.Role) {
		return ReasonForbidden
	}
	if cmd.Target == "" || !knownAction(cmd.Action) {
		return ReasonInvalidInput
	}

	t, reason := r.resolve(ctx, cmd.Target)
	if reason != "" {
		return reason
	}
	if !auth.CanTarget(sender.Role, t.role) {
		return ReasonForbidden
	}
	if r.keys.KillSwitchEnabled() && !auth.CanActWhileKillSwitchOn(sender.Role) {
		return ReasonKillSwitchActive
	}

	var err error
	switch cmd.Action {
	case ActionKick:
		r.kick(t.username, Kicked{Reason: ActionKick, By: sender.Username})
	case ActionBan:
		if !auth.CanBan(sender.Role) {
			return ReasonForbidden
		}
		err = r.ban(ctx, sender, t)
	case ActionTimeout:
		if cmd.Seconds <= 0 || int64(cmd.Seconds) > maxTimeoutSeconds {
			return ReasonInvalidInput
		}
		err = r.timeout(ctx, sender, t, time.Duration(cmd.Seconds)*time.Second)
	case ActionCustom:
		if cmd.Name == "" {
			return ReasonInvalidInput
		}
		r.hub.SendTo(t.sessions, EventCommand, Forwarded{
			From:   sender.Username,
			Role:   sender.Role,
			Action: ActionCustom,
			Name:   cmd.Name,
			Data:   cmd.Data,
		})
	}
	if err != nil {
		r.logger.Error("command failed",
			"action", cmd.Action,
			"target", t.username,
			"error", err,
		)
		if errors.Is(err, auth.ErrUserNotFound) {
			return ReasonTargetNotFound
		}
		return ReasonInternal
	}
	return ""
}

// senderValid re-checks the sender's credential; a socket can outlive the
// session it was opened with.
func (r *Router) senderValid(sender auth.Principal) bool {
	if sender.SessionID == "" || !r.sessions.Active(sender.SessionID) {
		return false
	}
	return sender.ExpiresAt.IsZero() || r.clock().Before(sender.ExpiresAt)
}

func knownAction(a string) bool {
	switch a {
	case ActionKick, ActionBan, ActionTimeout, ActionCustom:
		return true
	}
	return false
}

// resolve looks the target up by connection identity, then by username.
// The target's role is read from the stored account.
func (r *Router) resolve(ctx context.Context, name string) (target, string) {
	var t target
	if e, ok := r.presence.Get(name); ok {
		t.username = e.Username
		t.sessions = []string{name}
	} else if ids := r.presence.FindByUsername(name); len(ids) > 0 {
		t.username = name
		t.sessions = ids
	} else {
		return target{}, ReasonTargetNotFound
	}

	u, err := r.accounts.GetUser(ctx, t.username)
	if errors.Is(err, auth.ErrUserNotFound) {
		return target{}, ReasonTargetNotFound
	}
	if err != nil {
		r.logger.Error("resolving command target", "target", t.username, "error", err)
		return target{}, ReasonInternal
	}
	t.role = u.Role
	return t, ""
}

// kick closes every connection the user holds and drops their presence.
func (r *Router) kick(username string, notice Kicked) {
	r.hub.DisconnectUser(username, notice)
	if removed := r.presence.RemoveUser(username); len(removed) > 0 {
		r.broadcastPresence()
	}
}

func (r *Router) ban(ctx context.Context, sender auth.Principal, t target) error {
	revoked, err := r.accounts.Ban(ctx, t.username)
	if err != nil {
		return fmt.Errorf("banning %s: %w", t.username, err)
	}
	r.keys.RevokeGrants(revoked)
	r.kick(t.username, Kicked{Reason: ActionBan, By: sender.Username})
	return nil
}

func (r *Router) timeout(ctx context.Context, sender auth.Principal, t target, d time.Duration) error {
	revoked, until, err := r.accounts.Suspend(ctx, t.username, d)
	if err != nil {
		return fmt.Errorf("suspending %s: %w", t.username, err)
	}
	r.keys.RevokeGrants(revoked)
	r.kick(t.username, Kicked{Reason: ActionTimeout, By: sender.Username, Until: until})
	return nil
}

// broadcastPresence sends the full online list to everyone.
func (r *Router) broadcastPresence() {
	r.hub.Broadcast(EventPresenceUpdate, r.presence.ListOnline())
}

// BroadcastPresence is called by the transport after presence changes it
// made itself (connect, disconnect, sweep).
func (r *Router) BroadcastPresence() {
	r.broadcastPresence()
}

// SetKillSwitch flips the kill switch for sender, clearing every grant when
// it turns on, and broadcasts the new state. It returns the number of grants
// cleared.
func (r *Router) SetKillSwitch(ctx context.Context, sender auth.Principal, enable bool) (int, error) {
	if !r.senderValid(sender) {
		return 0, auth.ErrTokenRevoked
	}

	// The broadcast stays under the lock so concurrent toggles reach clients
	// in the order they were applied.
	r.mu.Lock()
	revoked, err := r.keys.SetKillSwitch(sender.Role, enable)
	if err == nil {
		r.hub.Broadcast(EventKillSwitchUpdate, KillSwitchState{Enabled: enable})
	}
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}

	r.audit.Record(audit.Entry{
		Action:     audit.ActionKillSwitch,
		EntityType: audit.EntitySystem,
		Actor:      sender.Username,
		Source:     sourceFrom(ctx),
		Details:    map[string]any{"enabled": enable, "grantsRevoked": revoked},
	})
	r.logger.Info("kill switch toggled",
		"enabled", enable,
		"by", sender.Username,
		"grants_revoked", revoked,
	)
	return revoked, nil
}

func (r *Router) record(sender auth.Principal, cmd Command, ack Ack) {
	if r.telemetry != nil {
		r.telemetry.WriteCommand(cmd.Action, ack.OK, ack.Reason)
	}

	details := map[string]any{"action": cmd.Action, "ok": ack.OK}
	if ack.Reason != "" {
		details["reason"] = ack.Reason
	}
	if cmd.Action == ActionTimeout {
		details["seconds"] = cmd.Seconds
	}
	if cmd.Action == ActionCustom {
		details["name"] = cmd.Name
	}
	r.audit.Record(audit.Entry{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityUser,
		EntityID:   cmd.Target,
		Actor:      sender.Username,
		Source:     audit.SourceWebSocket,
		Details:    details,
	})

	if ack.OK {
		r.logger.Info("command executed", "action", cmd.Action, "target", cmd.Target, "by", sender.Username)
	} else {
		r.logger.Debug("command rejected", "action", cmd.Action, "target", cmd.Target, "by", sender.Username, "reason", ack.Reason)
	}
}

type sourceKey struct{}

// WithSource tags ctx with the audit source of the caller.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return audit.SourceAPI
}
