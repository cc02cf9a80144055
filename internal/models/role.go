package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of account kinds recognised by the savings ledger.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
)

// ErrUnknownRole is returned when a stored role string is outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// AllRoles lists every recognised role.
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleParent}

// ParseRole normalises a stored role string.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Valid reports whether the role is part of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleParent:
		return true
	default:
		return false
	}
}

// CanPostTransactions reports whether the role may mutate the ledger.
func (r Role) CanPostTransactions() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// Principal is the authenticated actor for one session. It is resolved once
// when the session starts and passed to every rule explicitly.
type Principal struct {
	UserID          string `json:"user_id"`
	Role            Role   `json:"role"`
	AssignedClass   string `json:"assigned_class,omitempty"`
	LinkedStudentID string `json:"linked_student_id,omitempty"`
}

// IsAdmin is a convenience accessor.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// ScopeKey identifies the data scope of the principal, used to key caches.
func (p Principal) ScopeKey() string {
	switch p.Role {
	case RoleAdmin:
		return "admin"
	case RoleTeacher:
		return "teacher:" + p.AssignedClass
	case RoleParent:
		return "parent:" + p.LinkedStudentID
	default:
		return "none"
	}
}
