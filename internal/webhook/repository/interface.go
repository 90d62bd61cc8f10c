// Package repository persists board webhooks and their captured
// payloads.
package repository

import (
	"context"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
)

// Repository is the webhook store.
type Repository interface {
	Create(ctx context.Context, webhook *models.BoardWebhook) error
	Get(ctx context.Context, id string) (*models.BoardWebhook, error)
	ListByBoard(ctx context.Context, boardID string) ([]*models.BoardWebhook, error)
	Update(ctx context.Context, webhook *models.BoardWebhook) error
	Delete(ctx context.Context, id string) error

	CreatePayload(ctx context.Context, payload *models.Payload) error
	GetPayload(ctx context.Context, id string) (*models.Payload, error)
	ListPayloads(ctx context.Context, webhookID string, limit, offset int) ([]*models.Payload, error)
	DeletePayloadsByWebhook(ctx context.Context, webhookID string) error

	// PayloadsReceivedSince returns payloads captured at or after the
	// cutoff, oldest first, for the reconciliation sweep.
	PayloadsReceivedSince(ctx context.Context, cutoff time.Time) ([]*models.Payload, error)
}
