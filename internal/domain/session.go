package domain

import "time"

// Role is the access tier granted by the auth service.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
	RoleUser    Role = "user"
)

// ParseRole maps an upstream role tag onto a Role, defaulting to RoleUser.
func ParseRole(v string) Role {
	switch Role(v) {
	case RoleAdmin, RoleAuditor:
		return Role(v)
	default:
		return RoleUser
	}
}

// LandingRoute is the UI route a role is sent to after login.
func (r Role) LandingRoute() string {
	switch r {
	case RoleAdmin:
		return "/dashboard"
	case RoleAuditor:
		return "/audit"
	default:
		return "/portal"
	}
}

// Session is the authenticated caller state threaded through upstream calls.
type Session struct {
	Token     string
	Email     string
	Role      Role
	WalletID  string
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasRole reports whether the session holds any of the given roles.
func (s Session) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}
