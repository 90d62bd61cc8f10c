// Package models defines the gateway connection record.
package models

import "time"

// Gateway is a connection record for one OpenClaw gateway runtime.
type Gateway struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	URL            string    `json:"url" db:"url"`
	Token          string    `json:"-" db:"token"`
	MainSessionKey string    `json:"main_session_key" db:"main_session_key"`
	WorkspaceRoot  string    `json:"workspace_root" db:"workspace_root"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Provisionable reports whether the record carries everything the
// provisioner needs.
func (g *Gateway) Provisionable() bool {
	return g.URL != "" && g.MainSessionKey != "" && g.WorkspaceRoot != ""
}
