// Package models defines the append-only activity log entry.
package models

import "time"

// ActivityEvent is one append-only log row. EventType is namespaced
// (agent.*, task.*, gateway.*, webhook.*); rows of type task.comment
// with non-empty trimmed messages form the comment feed. PayloadID is
// set on webhook.* rows so reconciliation can match them exactly.
type ActivityEvent struct {
	ID        string    `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	Message   string    `json:"message" db:"message"`
	TaskID    *string   `json:"task_id" db:"task_id"`
	AgentID   *string   `json:"agent_id" db:"agent_id"`
	PayloadID *string   `json:"payload_id,omitempty" db:"payload_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FeedItem is a task comment joined with its task, board, and author
// for the comment feed and its SSE stream.
type FeedItem struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
	AgentID   *string   `json:"agent_id"`
	AgentName *string   `json:"agent_name"`
	AgentRole *string   `json:"agent_role"`
	TaskID    string    `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	BoardID   string    `json:"board_id"`
	BoardName string    `json:"board_name"`
}
