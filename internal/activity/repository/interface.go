// Package repository persists and queries activity events.
package repository

import (
	"context"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
)

// ListFilter narrows activity queries.
type ListFilter struct {
	AgentID  string
	BoardIDs []string // nil means unrestricted; empty means none
	Limit    int
	Offset   int
}

// Repository is the activity log store. Append writes happen either
// standalone or inside the transaction of the state change that caused
// them (via the Tx helpers used by the task repository).
type Repository interface {
	Append(ctx context.Context, event *models.ActivityEvent) error
	List(ctx context.Context, filter ListFilter) ([]*models.ActivityEvent, error)

	// ListFeed returns task.comment feed items, newest first.
	ListFeed(ctx context.Context, boardIDs []string, limit, offset int) ([]*models.FeedItem, error)

	// FeedSince returns feed items created at or after since, oldest
	// first, for SSE polling.
	FeedSince(ctx context.Context, since time.Time, boardIDs []string) ([]*models.FeedItem, error)

	// HasEventForPayload reports whether an event of type eventType
	// carries exactly payloadID; used by webhook reconciliation.
	HasEventForPayload(ctx context.Context, eventType, payloadID string) (bool, error)

	// ClearAgent nulls agent references on historical rows when an
	// agent is deleted.
	ClearAgent(ctx context.Context, agentID string) error
}
