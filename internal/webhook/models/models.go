// Package models defines board webhooks, captured payloads, and queued
// deliveries.
package models

import (
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
)

// BoardWebhook is an inbound webhook configuration on a board.
type BoardWebhook struct {
	ID          string    `json:"id" db:"id"`
	BoardID     string    `json:"board_id" db:"board_id"`
	Name        string    `json:"name" db:"name"`
	Instruction string    `json:"instruction" db:"instruction"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Payload is one captured delivery. Body holds the decoded JSON value
// when the request was JSON-shaped, otherwise the raw string; it is
// stored as-is and never parsed twice.
type Payload struct {
	ID          string       `json:"id" db:"id"`
	WebhookID   string       `json:"webhook_id" db:"webhook_id"`
	BoardID     string       `json:"board_id" db:"board_id"`
	Body        db.JSONValue `json:"body" db:"body"`
	ContentType string       `json:"content_type" db:"content_type"`
	Headers     db.JSONMap   `json:"headers" db:"headers"`
	SourceIP    string       `json:"source_ip" db:"source_ip"`
	ReceivedAt  time.Time    `json:"received_at" db:"received_at"`
}

// Delivery is one queued lead notification; it lives only in process.
type Delivery struct {
	BoardID    string
	WebhookID  string
	PayloadID  string
	ReceivedAt time.Time
	Attempts   int
}
