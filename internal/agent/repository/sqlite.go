package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// SQLiteRepository stores agents in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

func (r *SQLiteRepository) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = models.StatusProvisioning
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO agents (id, board_id, name, is_board_lead, status, openclaw_session_id,
			heartbeat_config, identity_profile, identity_template, soul_template,
			agent_token_hash, provision_action, provision_requested_at, last_seen_at,
			created_at, updated_at)
		VALUES (:id, :board_id, :name, :is_board_lead, :status, :openclaw_session_id,
			:heartbeat_config, :identity_profile, :identity_template, :soul_template,
			:agent_token_hash, :provision_action, :provision_requested_at, :last_seen_at,
			:created_at, :updated_at)`, agent)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflict(apperrors.CodeNameCollision,
				"An agent with this name already exists on this board.")
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent, `SELECT * FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE agents SET board_id = :board_id, name = :name, is_board_lead = :is_board_lead,
			status = :status, openclaw_session_id = :openclaw_session_id,
			heartbeat_config = :heartbeat_config, identity_profile = :identity_profile,
			identity_template = :identity_template, soul_template = :soul_template,
			agent_token_hash = :agent_token_hash, provision_action = :provision_action,
			provision_requested_at = :provision_requested_at, last_seen_at = :last_seen_at,
			updated_at = :updated_at
		WHERE id = :id`, agent)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflict(apperrors.CodeNameCollision,
				"An agent with this name already exists on this board.")
		}
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("agent not found: %s", agent.ID)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("agent not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) ListByBoard(ctx context.Context, boardID string) ([]*models.Agent, error) {
	var agents []*models.Agent
	err := r.ro.SelectContext(ctx, &agents,
		`SELECT * FROM agents WHERE board_id = ? ORDER BY created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list agents by board: %w", err)
	}
	return agents, nil
}

func (r *SQLiteRepository) ListByGateway(ctx context.Context, gatewayID string) ([]*models.Agent, error) {
	var agents []*models.Agent
	err := r.ro.SelectContext(ctx, &agents, `
		SELECT a.* FROM agents a
		JOIN boards b ON a.board_id = b.id
		WHERE b.gateway_id = ?
		ORDER BY a.created_at`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("list agents by gateway: %w", err)
	}
	return agents, nil
}

func (r *SQLiteRepository) FindBoardLead(ctx context.Context, boardID string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent,
		`SELECT * FROM agents WHERE board_id = ? AND is_board_lead = 1 LIMIT 1`, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("board %s has no lead agent", boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("find board lead: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindByNameOnBoard(ctx context.Context, boardID, name string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent,
		`SELECT * FROM agents WHERE board_id = ? AND lower(name) = lower(?) LIMIT 1`, boardID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found on board: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by name: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindByNameInGateway(ctx context.Context, gatewayID, name string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent, `
		SELECT a.* FROM agents a
		JOIN boards b ON a.board_id = b.id
		WHERE b.gateway_id = ? AND lower(a.name) = lower(?)
		LIMIT 1`, gatewayID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found in gateway: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by name in gateway: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindBySessionKeyInGateway(ctx context.Context, gatewayID, key string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent, `
		SELECT a.* FROM agents a
		JOIN boards b ON a.board_id = b.id
		WHERE b.gateway_id = ? AND a.openclaw_session_id = ?
		LIMIT 1`, gatewayID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found for session key: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by session key in gateway: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindBySessionKey(ctx context.Context, key string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent,
		`SELECT * FROM agents WHERE openclaw_session_id = ? LIMIT 1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found for session key: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by session key: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindByName(ctx context.Context, name string, boardID *string) (*models.Agent, error) {
	query := `SELECT * FROM agents WHERE lower(name) = lower(?)`
	args := []interface{}{name}
	if boardID != nil {
		query += ` AND board_id = ?`
		args = append(args, *boardID)
	}
	query += ` LIMIT 1`

	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by name: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) FindByTokenHash(ctx context.Context, hash string) (*models.Agent, error) {
	var agent models.Agent
	err := r.ro.GetContext(ctx, &agent,
		`SELECT * FROM agents WHERE agent_token_hash = ? LIMIT 1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent not found for token")
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by token: %w", err)
	}
	return &agent, nil
}

func (r *SQLiteRepository) ListChangedSince(ctx context.Context, since time.Time) ([]*models.Agent, error) {
	var agents []*models.Agent
	err := r.ro.SelectContext(ctx, &agents, `
		SELECT * FROM agents
		WHERE updated_at >= ? OR (last_seen_at IS NOT NULL AND last_seen_at >= ?)
		ORDER BY updated_at`, since, since)
	if err != nil {
		return nil, fmt.Errorf("list changed agents: %w", err)
	}
	return agents, nil
}
