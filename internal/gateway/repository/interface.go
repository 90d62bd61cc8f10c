// Package repository persists gateway connection records.
package repository

import (
	"context"

	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
)

// Repository stores gateway records.
type Repository interface {
	Create(ctx context.Context, gw *models.Gateway) error
	Get(ctx context.Context, id string) (*models.Gateway, error)
	List(ctx context.Context, organizationID string) ([]*models.Gateway, error)
	Update(ctx context.Context, gw *models.Gateway) error
	Delete(ctx context.Context, id string) error

	// FindByMainSessionKey resolves the gateway whose main session key
	// matches, used to detect main agents.
	FindByMainSessionKey(ctx context.Context, key string) (*models.Gateway, error)
}
