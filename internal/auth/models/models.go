// Package models defines tenancy entities: organizations, users, and
// memberships.
package models

import (
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
)

// MemberRole scopes what a member may do inside an organization.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Organization is the tenant boundary.
type Organization struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is a human account authenticated by an API token.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	APITokenHash *string   `json:"-" db:"api_token_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Member is a (user, organization) pair. BoardACL maps board id to
// "read" or "write"; admins implicitly hold write on every board.
type Member struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Role           MemberRole `json:"role" db:"role"`
	BoardACL       db.JSONMap `json:"board_acl" db:"board_acl"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// IsAdmin reports whether the member holds the admin role.
func (m *Member) IsAdmin() bool { return m.Role == RoleAdmin }

// BoardAccess reports whether the member may see (and, with write=true,
// mutate) the given board.
func (m *Member) BoardAccess(boardID string, write bool) bool {
	if m.IsAdmin() {
		return true
	}
	if m.BoardACL == nil {
		return false
	}
	grant, ok := m.BoardACL[boardID].(string)
	if !ok {
		return false
	}
	if write {
		return grant == "write"
	}
	return grant == "read" || grant == "write"
}
