package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
)

// MemoryRepository is the in-memory gateway store used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	gateways map[string]*models.Gateway
}

// NewMemory creates an empty in-memory gateway store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{gateways: make(map[string]*models.Gateway)}
}

func (r *MemoryRepository) Create(_ context.Context, gw *models.Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gw.ID == "" {
		gw.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	gw.CreatedAt = now
	gw.UpdatedAt = now
	copied := *gw
	r.gateways[gw.ID] = &copied
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[id]
	if !ok {
		return nil, apperrors.NotFound("gateway not found: %s", id)
	}
	copied := *gw
	return &copied, nil
}

func (r *MemoryRepository) List(_ context.Context, organizationID string) ([]*models.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Gateway
	for _, gw := range r.gateways {
		if gw.OrganizationID == organizationID {
			copied := *gw
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, gw *models.Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gateways[gw.ID]; !ok {
		return apperrors.NotFound("gateway not found: %s", gw.ID)
	}
	gw.UpdatedAt = time.Now().UTC()
	copied := *gw
	r.gateways[gw.ID] = &copied
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gateways[id]; !ok {
		return apperrors.NotFound("gateway not found: %s", id)
	}
	delete(r.gateways, id)
	return nil
}

func (r *MemoryRepository) FindByMainSessionKey(_ context.Context, key string) (*models.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key != "" {
		for _, gw := range r.gateways {
			if gw.MainSessionKey == key {
				copied := *gw
				return &copied, nil
			}
		}
	}
	return nil, apperrors.NotFound("gateway not found for session key: %s", key)
}
