// Package rpc implements the JSON-RPC websocket channel to an OpenClaw
// gateway: typed frames, a persistent client, transient-error
// classification, bounded backoff, and the version compatibility probe.
package rpc

import "encoding/json"

// Frame type discriminators on the websocket channel.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is a client-to-gateway method invocation.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a request by id.
type ResponseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// EventFrame is an unsolicited server push.
type EventFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorShape is the structured error payload inside a failed response.
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Gateway method names consumed by mission control.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodSessionsList    = "sessions.list"
	MethodSessionsGet     = "sessions.get"
	MethodSessionsSpawn   = "sessions.spawn"
	MethodSessionsSend    = "sessions.send"
	MethodSessionsHistory = "sessions.history"
	MethodSessionsReset   = "sessions.reset"
	MethodSessionsDelete  = "sessions.delete"

	MethodAgentsList    = "agents.list"
	MethodAgentsFileLst = "agents.files.list"
	MethodAgentsFileGet = "agents.files.get"
	MethodAgentsFileSet = "agents.files.set"

	MethodConfigGet    = "config.get"
	MethodConfigPatch  = "config.patch"
	MethodConfigSchema = "config.schema"
)

// SessionEntry describes one gateway session.
type SessionEntry struct {
	Key       string `json:"key"`
	Label     string `json:"label,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// ConfigSnapshot is the result of config.get: the full gateway config
// document plus the hash used for optimistic patching.
type ConfigSnapshot struct {
	Hash   string                 `json:"hash"`
	Config map[string]interface{} `json:"config"`
}

// HistoryMessage is one transcript entry from sessions.history.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}
