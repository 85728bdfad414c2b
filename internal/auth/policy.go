package auth

import "time"

// Every authorisation decision in keygate goes through the functions in this
// file. They have no side effects; callers pass the time in.

// CanUpload reports whether role may replace the protected content.
func CanUpload(role Role) bool { return role == RoleOwner }

// CanCreateUser reports whether role may create accounts.
func CanCreateUser(role Role) bool { return role == RoleOwner }

// CanCommand reports whether role may send moderation commands at all.
func CanCommand(role Role) bool { return role.AtLeast(RoleModerator) }

// CanBan reports whether role may permanently ban.
func CanBan(role Role) bool { return role == RoleOwner }

// CanToggleKillSwitch reports whether role may flip the kill switch.
func CanToggleKillSwitch(role Role) bool { return role == RoleOwner }

// CanRevokeSessions reports whether role may revoke another session.
func CanRevokeSessions(role Role) bool { return role == RoleOwner }

// CanViewAudit reports whether role may read the audit trail.
func CanViewAudit(role Role) bool { return role == RoleOwner }

// CanActWhileKillSwitchOn reports whether role keeps privileged access while
// the kill switch is on. Only the owner does.
func CanActWhileKillSwitchOn(role Role) bool { return role == RoleOwner }

// CanTarget reports whether actor may aim a command at target. Owners are
// unrestricted. Moderators may only target roles strictly below moderator.
// Everyone else may target no one.
func CanTarget(actor, target Role) bool {
	switch actor {
	case RoleOwner:
		return true
	case RoleModerator:
		return target.IsValid() && target.Rank() < RoleModerator.Rank()
	default:
		return false
	}
}

// CheckLogin returns ErrBanned or ErrSuspended when u may not hold a
// credential at t. An elapsed suspension does not block.
func CheckLogin(u *User, t time.Time) error {
	if u.Banned {
		return ErrBanned
	}
	if u.SuspendedAt(t) {
		return ErrSuspended
	}
	return nil
}

// CheckKeyIssue decides whether a principal holding role, backed by the
// account u, may receive the content key. The kill switch is checked first,
// then ban and suspension state.
func CheckKeyIssue(role Role, u *User, killSwitchOn bool, t time.Time) error {
	if killSwitchOn && !CanActWhileKillSwitchOn(role) {
		return ErrKillSwitchActive
	}
	if u == nil {
		return ErrUserNotFound
	}
	return CheckLogin(u, t)
}

// CanIssueKey is the boolean form of CheckKeyIssue.
func CanIssueKey(role Role, u *User, killSwitchOn bool, t time.Time) bool {
	return CheckKeyIssue(role, u, killSwitchOn, t) == nil
}
