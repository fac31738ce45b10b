// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package models

// Role is a project access level. Roles form a total order; comparisons use
// AtLeast.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleAdmin
	RoleOwner
)

// ParseRole maps a stored role name onto the ladder. Unknown names map to
// RoleNone.
func ParseRole(s string) Role {
	switch s {
	case "viewer":
		return RoleViewer
	case "editor":
		return RoleEditor
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// AtLeast reports whether r grants at least the access of other.
func (r Role) AtLeast(other Role) bool {
	return r >= other
}

// Min returns the lower of two roles. Used to intersect an OAuth grant scope
// with the underlying user's access.
func (r Role) Min(other Role) Role {
	if other < r {
		return other
	}
	return r
}

// PrincipalKind distinguishes first-party users from OAuth-granted external
// clients.
type PrincipalKind string

const (
	PrincipalUser        PrincipalKind = "user"
	PrincipalOAuthClient PrincipalKind = "oauth-client"
)

// Principal is an authenticated identity produced by token verification.
type Principal struct {
	Kind        PrincipalKind
	ID          string
	DisplayName string

	// ActingUserID is the underlying user an OAuth client acts for. Empty
	// for first-party users.
	ActingUserID string
}

// UserID returns the user whose grants bound this principal's access.
func (p Principal) UserID() string {
	if p.Kind == PrincipalOAuthClient {
		return p.ActingUserID
	}
	return p.ID
}

// Project is the resolved target of a connection.
type Project struct {
	ID          string
	OwnerUserID string
}
