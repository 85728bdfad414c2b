// Package command routes privileged real-time commands between connected
// principals.
//
// A command names a target, either a connection identity or a username, and
// an action: kick, ban, timeout or custom. Router.Dispatch runs every command
// through the same gate:
//
//  1. sender session still valid (unauthorized)
//  2. sender is at least a moderator (forbidden)
//  3. target resolves to a live presence entry (target_not_found)
//  4. sender may act on the target's role (forbidden)
//  5. kill switch off, or sender is owner (kill_switch_active)
//  6. action-specific checks, then execution
//
// Every command is answered with an Ack carrying a stable reason code.
// Dispatch holds the router lock for the whole sequence, so a ban and the
// kick that follows it are never interleaved with another command.
package command
