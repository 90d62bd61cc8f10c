// Package repository persists organizations, users, and memberships.
package repository

import (
	"context"

	"github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
)

// Repository is the tenancy store.
type Repository interface {
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByTokenHash(ctx context.Context, hash string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, organizationID, userID string) (*models.Member, error)
	ListMembers(ctx context.Context, organizationID string) ([]*models.Member, error)
	UpdateMember(ctx context.Context, member *models.Member) error
}
