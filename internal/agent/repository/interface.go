// Package repository persists agents.
package repository

import (
	"context"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
)

// Repository stores agents. Name finders are case-insensitive; the
// gateway-scoped finders span every board attached to a gateway so name
// and session-key collisions are caught across the whole workspace.
type Repository interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error

	ListByBoard(ctx context.Context, boardID string) ([]*models.Agent, error)
	ListByGateway(ctx context.Context, gatewayID string) ([]*models.Agent, error)

	FindBoardLead(ctx context.Context, boardID string) (*models.Agent, error)
	FindByNameOnBoard(ctx context.Context, boardID, name string) (*models.Agent, error)
	FindByNameInGateway(ctx context.Context, gatewayID, name string) (*models.Agent, error)
	FindBySessionKeyInGateway(ctx context.Context, gatewayID, key string) (*models.Agent, error)
	FindBySessionKey(ctx context.Context, key string) (*models.Agent, error)
	FindByName(ctx context.Context, name string, boardID *string) (*models.Agent, error)
	FindByTokenHash(ctx context.Context, hash string) (*models.Agent, error)

	// ListChangedSince powers the agent SSE stream: rows whose
	// updated_at or last_seen_at is at or after since.
	ListChangedSince(ctx context.Context, since time.Time) ([]*models.Agent, error)
}
