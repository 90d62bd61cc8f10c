package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// MemoryRepository is the in-memory tenancy store used by tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	orgs    map[string]*models.Organization
	users   map[string]*models.User
	members map[string]*models.Member
}

// NewMemory creates an empty in-memory tenancy store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		orgs:    make(map[string]*models.Organization),
		users:   make(map[string]*models.User),
		members: make(map[string]*models.Member),
	}
}

func (r *MemoryRepository) CreateOrganization(_ context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	org.CreatedAt = time.Now().UTC()
	copied := *org
	r.orgs[org.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.orgs[id]
	if !ok {
		return nil, apperrors.NotFound("organization not found: %s", id)
	}
	copied := *org
	return &copied, nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found: %s", id)
	}
	copied := *user
	return &copied, nil
}

func (r *MemoryRepository) FindUserByTokenHash(_ context.Context, hash string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.APITokenHash != nil && *user.APITokenHash == hash {
			copied := *user
			return &copied, nil
		}
	}
	return nil, apperrors.Unauthorized("invalid token")
}

func (r *MemoryRepository) UpdateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return apperrors.NotFound("user not found: %s", user.ID)
	}
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *MemoryRepository) CreateMember(_ context.Context, member *models.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	member.CreatedAt = time.Now().UTC()
	if member.Role == "" {
		member.Role = models.RoleMember
	}
	copied := *member
	r.members[member.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetMember(_ context.Context, organizationID, userID string) (*models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, member := range r.members {
		if member.OrganizationID == organizationID && member.UserID == userID {
			copied := *member
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("member not found")
}

func (r *MemoryRepository) ListMembers(_ context.Context, organizationID string) ([]*models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Member
	for _, member := range r.members {
		if member.OrganizationID == organizationID {
			copied := *member
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateMember(_ context.Context, member *models.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[member.ID]; !ok {
		return apperrors.NotFound("member not found: %s", member.ID)
	}
	copied := *member
	r.members[member.ID] = &copied
	return nil
}
