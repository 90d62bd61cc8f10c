package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// SQLiteRepository stores tenancy data in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

func (r *SQLiteRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	org.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES (:id, :name, :created_at)`, org)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := r.ro.GetContext(ctx, &org, `SELECT * FROM organizations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organization not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, display_name, api_token_hash, created_at)
		VALUES (:id, :email, :display_name, :api_token_hash, :created_at)`, user)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.ro.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (r *SQLiteRepository) FindUserByTokenHash(ctx context.Context, hash string) (*models.User, error) {
	var user models.User
	err := r.ro.GetContext(ctx, &user, `SELECT * FROM users WHERE api_token_hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Unauthorized("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("find user by token: %w", err)
	}
	return &user, nil
}

func (r *SQLiteRepository) UpdateUser(ctx context.Context, user *models.User) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE users SET email = :email, display_name = :display_name,
			api_token_hash = :api_token_hash
		WHERE id = :id`, user)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("user not found: %s", user.ID)
	}
	return nil
}

func (r *SQLiteRepository) CreateMember(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	member.CreatedAt = time.Now().UTC()
	if member.Role == "" {
		member.Role = models.RoleMember
	}
	if member.BoardACL == nil {
		member.BoardACL = map[string]interface{}{}
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO members (id, organization_id, user_id, role, board_acl, created_at)
		VALUES (:id, :organization_id, :user_id, :role, :board_acl, :created_at)`, member)
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMember(ctx context.Context, organizationID, userID string) (*models.Member, error) {
	var member models.Member
	err := r.ro.GetContext(ctx, &member,
		`SELECT * FROM members WHERE organization_id = ? AND user_id = ?`, organizationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &member, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, organizationID string) ([]*models.Member, error) {
	var members []*models.Member
	err := r.ro.SelectContext(ctx, &members,
		`SELECT * FROM members WHERE organization_id = ? ORDER BY created_at`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (r *SQLiteRepository) UpdateMember(ctx context.Context, member *models.Member) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE members SET role = :role, board_acl = :board_acl
		WHERE id = :id`, member)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("member not found: %s", member.ID)
	}
	return nil
}
