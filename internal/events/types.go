// Package events defines the event type constants published on the bus
// and recorded in the activity log.
package events

// Bus subjects.
const (
	SubjectTaskAssigned = "task.assigned"
	SubjectTaskUpdated  = "task.updated"
	SubjectTaskCreated  = "task.created"
	SubjectTaskAll      = "task.>"

	SubjectAgentHeartbeat = "agent.heartbeat"
	SubjectWebhookReceive = "webhook.received"
)

// Activity event types.
const (
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskStatus       = "task.status"
	TaskAssigned     = "task.assigned"
	TaskUnassigned   = "task.unassigned"
	TaskComment      = "task.comment"
	TaskDeleted      = "task.deleted"
	TaskNudgeSent    = "task.nudge.sent"
	TaskNudgeFailed  = "task.nudge.failed"

	AgentCreated         = "agent.created"
	AgentUpdated         = "agent.updated"
	AgentDeleted         = "agent.deleted"
	AgentHeartbeat       = "agent.heartbeat"
	AgentProvisioned     = "agent.provision"
	AgentUpdateDirect    = "agent.update.direct"
	AgentSessionCreated  = "agent.session.created"
	AgentSessionFailed   = "agent.session.failed"
	AgentWakeupSent      = "agent.wakeup.sent"
	AgentProvisionFailed = "agent.provision.failed"
	AgentUpdateFailed    = "agent.update.failed"
	AgentDeleteFailed    = "agent.delete.failed"

	GatewayAskUser   = "gateway.ask_user"
	GatewayLeadMsg   = "gateway.lead_message"
	GatewayBroadcast = "gateway.broadcast"
	GatewaySyncDone  = "gateway.sync.completed"

	WebhookReceived        = "webhook.received"
	WebhookDispatchSuccess = "webhook.dispatch.success"
	WebhookDispatchFailed  = "webhook.dispatch.failed"
)
