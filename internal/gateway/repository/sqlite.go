package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
)

// SQLiteRepository stores gateways in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

func (r *SQLiteRepository) Create(ctx context.Context, gw *models.Gateway) error {
	if gw.ID == "" {
		gw.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	gw.CreatedAt = now
	gw.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO gateways (id, organization_id, name, url, token, main_session_key, workspace_root, created_at, updated_at)
		VALUES (:id, :organization_id, :name, :url, :token, :main_session_key, :workspace_root, :created_at, :updated_at)`,
		gw)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Gateway, error) {
	var gw models.Gateway
	err := r.ro.GetContext(ctx, &gw, `SELECT * FROM gateways WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("gateway not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get gateway: %w", err)
	}
	return &gw, nil
}

func (r *SQLiteRepository) List(ctx context.Context, organizationID string) ([]*models.Gateway, error) {
	var gws []*models.Gateway
	err := r.ro.SelectContext(ctx, &gws,
		`SELECT * FROM gateways WHERE organization_id = ? ORDER BY created_at`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list gateways: %w", err)
	}
	return gws, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, gw *models.Gateway) error {
	gw.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE gateways SET name = :name, url = :url, token = :token,
			main_session_key = :main_session_key, workspace_root = :workspace_root,
			updated_at = :updated_at
		WHERE id = :id`, gw)
	if err != nil {
		return fmt.Errorf("update gateway: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("gateway not found: %s", gw.ID)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gateways WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete gateway: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("gateway not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) FindByMainSessionKey(ctx context.Context, key string) (*models.Gateway, error) {
	if key == "" {
		return nil, apperrors.NotFound("gateway not found for empty session key")
	}
	var gw models.Gateway
	err := r.ro.GetContext(ctx, &gw,
		`SELECT * FROM gateways WHERE main_session_key = ? LIMIT 1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("gateway not found for session key: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("find gateway by session key: %w", err)
	}
	return &gw, nil
}
