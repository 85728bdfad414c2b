package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/presence"
)

// Actions.
const (
	ActionKick    = "kick"
	ActionBan     = "ban"
	ActionTimeout = "timeout"
	ActionCustom  = "custom"
)

// Reason codes carried by a failed Ack.
const (
	ReasonUnauthorized     = "unauthorized"
	ReasonForbidden        = "forbidden"
	ReasonTargetNotFound   = "target_not_found"
	ReasonKillSwitchActive = "kill_switch_active"
	ReasonInvalidInput     = "invalid_input"
	ReasonInternal         = "internal_error"
)

// Outbound event types.
const (
	EventPresenceUpdate   = "presence-update"
	EventKillSwitchUpdate = "kill-switch-update"
	EventCommand          = "command"
	EventKicked           = "kicked"
)

// Command is an inbound privileged command.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Target  string          `json:"target"`
	Action  string          `json:"action"`
	Seconds int             `json:"seconds,omitempty"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Ack answers a Command. Reason is set when OK is false.
type Ack struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Forwarded is what the target of a custom command receives.
type Forwarded struct {
	From   string          `json:"from"`
	Role   auth.Role       `json:"role"`
	Action string          `json:"action"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Kicked tells a connection why it is being closed.
type Kicked struct {
	Reason string    `json:"reason"`
	By     string    `json:"by"`
	Until  time.Time `json:"until,omitzero"`
}

// KillSwitchState is the kill-switch-update payload.
type KillSwitchState struct {
	Enabled bool `json:"enabled"`
}

// Hub delivers events to live connections.
type Hub interface {
	// Broadcast sends an event to every connection.
	Broadcast(eventType string, payload any)
	// SendTo sends an event to the connections of the listed sessions and
	// returns how many connections it reached.
	SendTo(sessionIDs []string, eventType string, payload any) int
	// DisconnectUser sends notice to, then closes, every connection held by
	// username.
	DisconnectUser(username string, notice any) int
}

// Presence is the registry view the router needs.
type Presence interface {
	Get(identity string) (presence.Entry, bool)
	FindByUsername(username string) []string
	RemoveUser(username string) []string
	ListOnline() []presence.Entry
}

// Accounts reads and mutates stored users.
type Accounts interface {
	GetUser(ctx context.Context, username string) (*auth.User, error)
	Ban(ctx context.Context, username string) ([]string, error)
	Suspend(ctx context.Context, username string, d time.Duration) ([]string, time.Time, error)
}

// Sessions reports whether a credential session is still live.
type Sessions interface {
	Active(sessionID string) bool
}

// Keys is the vault view the router needs.
type Keys interface {
	RevokeGrants(sessionIDs []string) int
	KillSwitchEnabled() bool
	SetKillSwitch(actor auth.Role, enable bool) (int, error)
}

// Telemetry records command outcomes.
type Telemetry interface {
	WriteCommand(action string, ok bool, reason string)
}
