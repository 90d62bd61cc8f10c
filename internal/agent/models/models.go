// Package models defines agent entities and status derivation.
package models

import (
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
)

// AgentStatus enumerates lifecycle states. Offline is derived at read
// time from last_seen_at, never stored.
type AgentStatus string

const (
	StatusProvisioning AgentStatus = "provisioning"
	StatusOnline       AgentStatus = "online"
	StatusOffline      AgentStatus = "offline"
	StatusUpdating     AgentStatus = "updating"
	StatusDeleting     AgentStatus = "deleting"
)

// OfflineAfter is how long an agent may stay silent before it reads as
// offline.
const OfflineAfter = 10 * time.Minute

// HeartbeatConfig is the gateway-side heartbeat entry for an agent.
type HeartbeatConfig struct {
	Every  string `json:"every"`
	Target string `json:"target"`
}

// DefaultHeartbeat matches the entry written into the gateway registry
// for new agents.
func DefaultHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{Every: "10m", Target: "none"}
}

// Agent is a named participant on a board, or the gateway main when
// BoardID is nil.
type Agent struct {
	ID                   string      `json:"id" db:"id"`
	BoardID              *string     `json:"board_id" db:"board_id"`
	Name                 string      `json:"name" db:"name"`
	IsBoardLead          bool        `json:"is_board_lead" db:"is_board_lead"`
	Status               AgentStatus `json:"status" db:"status"`
	OpenClawSessionID    *string     `json:"openclaw_session_id" db:"openclaw_session_id"`
	HeartbeatConfig      db.JSONMap  `json:"heartbeat_config" db:"heartbeat_config"`
	IdentityProfile      db.JSONMap  `json:"identity_profile" db:"identity_profile"`
	IdentityTemplate     *string     `json:"identity_template" db:"identity_template"`
	SoulTemplate         *string     `json:"soul_template" db:"soul_template"`
	AgentTokenHash       *string     `json:"-" db:"agent_token_hash"`
	ProvisionAction      *string     `json:"provision_action" db:"provision_action"`
	ProvisionRequestedAt *time.Time  `json:"provision_requested_at" db:"provision_requested_at"`
	LastSeenAt           *time.Time  `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at" db:"updated_at"`
}

// ComputedStatus derives the externally visible status. Deleting and
// updating are sticky; an agent that never heartbeated is provisioning;
// a stale heartbeat reads as offline.
func (a *Agent) ComputedStatus(now time.Time) AgentStatus {
	switch a.Status {
	case StatusDeleting, StatusUpdating:
		return a.Status
	}
	if a.LastSeenAt == nil {
		return StatusProvisioning
	}
	if now.Sub(*a.LastSeenAt) > OfflineAfter {
		return StatusOffline
	}
	return a.Status
}

// Heartbeat returns the typed heartbeat config, defaulting empty fields.
func (a *Agent) Heartbeat() HeartbeatConfig {
	hb := DefaultHeartbeat()
	if a.HeartbeatConfig == nil {
		return hb
	}
	if v, ok := a.HeartbeatConfig["every"].(string); ok && v != "" {
		hb.Every = v
	}
	if v, ok := a.HeartbeatConfig["target"].(string); ok && v != "" {
		hb.Target = v
	}
	return hb
}

// Role extracts the role string from the identity profile, if any.
func (a *Agent) Role() string {
	if a.IdentityProfile == nil {
		return ""
	}
	if v, ok := a.IdentityProfile["role"].(string); ok {
		return v
	}
	return ""
}
