package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// MemoryRepository is the in-memory agent store used by tests. The
// BoardGateway hook resolves board→gateway for gateway-scoped finders.
type MemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent

	BoardGateway func(boardID string) (gatewayID string, ok bool)
}

// NewMemory creates an empty in-memory agent store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{agents: make(map[string]*models.Agent)}
}

func (r *MemoryRepository) Create(_ context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = models.StatusProvisioning
	}
	for _, existing := range r.agents {
		if agent.BoardID != nil && existing.BoardID != nil &&
			*existing.BoardID == *agent.BoardID &&
			strings.EqualFold(existing.Name, agent.Name) {
			return apperrors.Conflict(apperrors.CodeNameCollision,
				"An agent with this name already exists on this board.")
		}
	}
	copied := *agent
	r.agents[agent.ID] = &copied
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, apperrors.NotFound("agent not found: %s", id)
	}
	copied := *agent
	return &copied, nil
}

func (r *MemoryRepository) Update(_ context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; !ok {
		return apperrors.NotFound("agent not found: %s", agent.ID)
	}
	agent.UpdatedAt = time.Now().UTC()
	copied := *agent
	r.agents[agent.ID] = &copied
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return apperrors.NotFound("agent not found: %s", id)
	}
	delete(r.agents, id)
	return nil
}

func (r *MemoryRepository) ListByBoard(_ context.Context, boardID string) ([]*models.Agent, error) {
	return r.filter(func(a *models.Agent) bool {
		return a.BoardID != nil && *a.BoardID == boardID
	}), nil
}

func (r *MemoryRepository) ListByGateway(_ context.Context, gatewayID string) ([]*models.Agent, error) {
	return r.filter(func(a *models.Agent) bool {
		return r.onGateway(a, gatewayID)
	}), nil
}

func (r *MemoryRepository) FindBoardLead(_ context.Context, boardID string) (*models.Agent, error) {
	leads := r.filter(func(a *models.Agent) bool {
		return a.IsBoardLead && a.BoardID != nil && *a.BoardID == boardID
	})
	if len(leads) == 0 {
		return nil, apperrors.NotFound("board %s has no lead agent", boardID)
	}
	return leads[0], nil
}

func (r *MemoryRepository) FindByNameOnBoard(_ context.Context, boardID, name string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		return a.BoardID != nil && *a.BoardID == boardID && strings.EqualFold(a.Name, name)
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found on board: %s", name)
	}
	return matches[0], nil
}

func (r *MemoryRepository) FindByNameInGateway(_ context.Context, gatewayID, name string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		return r.onGateway(a, gatewayID) && strings.EqualFold(a.Name, name)
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found in gateway: %s", name)
	}
	return matches[0], nil
}

func (r *MemoryRepository) FindBySessionKeyInGateway(_ context.Context, gatewayID, key string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		return r.onGateway(a, gatewayID) && a.OpenClawSessionID != nil && *a.OpenClawSessionID == key
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found for session key: %s", key)
	}
	return matches[0], nil
}

func (r *MemoryRepository) FindBySessionKey(_ context.Context, key string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		return a.OpenClawSessionID != nil && *a.OpenClawSessionID == key
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found for session key: %s", key)
	}
	return matches[0], nil
}

func (r *MemoryRepository) FindByName(_ context.Context, name string, boardID *string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		if !strings.EqualFold(a.Name, name) {
			return false
		}
		if boardID != nil {
			return a.BoardID != nil && *a.BoardID == *boardID
		}
		return true
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found: %s", name)
	}
	return matches[0], nil
}

func (r *MemoryRepository) FindByTokenHash(_ context.Context, hash string) (*models.Agent, error) {
	matches := r.filter(func(a *models.Agent) bool {
		return a.AgentTokenHash != nil && *a.AgentTokenHash == hash
	})
	if len(matches) == 0 {
		return nil, apperrors.NotFound("agent not found for token")
	}
	return matches[0], nil
}

func (r *MemoryRepository) ListChangedSince(_ context.Context, since time.Time) ([]*models.Agent, error) {
	return r.filter(func(a *models.Agent) bool {
		if !a.UpdatedAt.Before(since) {
			return true
		}
		return a.LastSeenAt != nil && !a.LastSeenAt.Before(since)
	}), nil
}

func (r *MemoryRepository) onGateway(a *models.Agent, gatewayID string) bool {
	if a.BoardID == nil || r.BoardGateway == nil {
		return false
	}
	gw, ok := r.BoardGateway(*a.BoardID)
	return ok && gw == gatewayID
}

func (r *MemoryRepository) filter(keep func(*models.Agent) bool) []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Agent
	for _, agent := range r.agents {
		if keep(agent) {
			copied := *agent
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
