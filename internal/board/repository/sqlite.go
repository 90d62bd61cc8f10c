package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// SQLiteRepository stores the board domain in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

func (r *SQLiteRepository) CreateBoard(ctx context.Context, board *models.Board) error {
	if board.ID == "" {
		board.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	board.CreatedAt = now
	board.UpdatedAt = now
	if board.Onboarding == nil {
		board.Onboarding = map[string]interface{}{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO boards (id, organization_id, gateway_id, name, objective, target_date,
			goal_confirmed, onboarding, created_at, updated_at)
		VALUES (:id, :organization_id, :gateway_id, :name, :objective, :target_date,
			:goal_confirmed, :onboarding, :created_at, :updated_at)`, board)
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var board models.Board
	err := r.ro.GetContext(ctx, &board, `SELECT * FROM boards WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("board not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get board: %w", err)
	}
	return &board, nil
}

func (r *SQLiteRepository) ListBoards(ctx context.Context, organizationID string) ([]*models.Board, error) {
	var boards []*models.Board
	err := r.ro.SelectContext(ctx, &boards,
		`SELECT * FROM boards WHERE organization_id = ? ORDER BY created_at`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

func (r *SQLiteRepository) ListBoardsByGateway(ctx context.Context, gatewayID string) ([]*models.Board, error) {
	var boards []*models.Board
	err := r.ro.SelectContext(ctx, &boards,
		`SELECT * FROM boards WHERE gateway_id = ? ORDER BY created_at`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("list boards by gateway: %w", err)
	}
	return boards, nil
}

func (r *SQLiteRepository) UpdateBoard(ctx context.Context, board *models.Board) error {
	board.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE boards SET gateway_id = :gateway_id, name = :name, objective = :objective,
			target_date = :target_date, goal_confirmed = :goal_confirmed,
			onboarding = :onboarding, updated_at = :updated_at
		WHERE id = :id`, board)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("board not found: %s", board.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteBoard(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("board not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) CreateMemory(ctx context.Context, memory *models.BoardMemory) error {
	if memory.ID == "" {
		memory.ID = uuid.New().String()
	}
	memory.CreatedAt = time.Now().UTC()
	if memory.Tags == nil {
		memory.Tags = []string{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO board_memory (id, board_id, content, is_chat, source, tags, created_at)
		VALUES (:id, :board_id, :content, :is_chat, :source, :tags, :created_at)`, memory)
	if err != nil {
		return fmt.Errorf("create board memory: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListMemory(ctx context.Context, boardID string, isChat *bool, limit, offset int) ([]*models.BoardMemory, error) {
	query := `SELECT * FROM board_memory WHERE board_id = ?`
	args := []interface{}{boardID}
	if isChat != nil {
		query += ` AND is_chat = ?`
		args = append(args, *isChat)
	}
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	var entries []*models.BoardMemory
	if err := r.ro.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list board memory: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) LatestChatMemory(ctx context.Context, boardID string) (*models.BoardMemory, error) {
	var entry models.BoardMemory
	err := r.ro.GetContext(ctx, &entry, `
		SELECT * FROM board_memory WHERE board_id = ? AND is_chat = 1
		ORDER BY created_at DESC LIMIT 1`, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("board %s has no chat memory", boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest chat memory: %w", err)
	}
	return &entry, nil
}

func (r *SQLiteRepository) CreateApproval(ctx context.Context, approval *models.Approval) error {
	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}
	approval.CreatedAt = time.Now().UTC()
	if approval.Status == "" {
		approval.Status = models.ApprovalPending
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO approvals (id, board_id, task_id, title, detail, status,
			requested_by_agent_id, resolved_at, created_at)
		VALUES (:id, :board_id, :task_id, :title, :detail, :status,
			:requested_by_agent_id, :resolved_at, :created_at)`, approval)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var approval models.Approval
	err := r.ro.GetContext(ctx, &approval, `SELECT * FROM approvals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("approval not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return &approval, nil
}

func (r *SQLiteRepository) ListApprovals(ctx context.Context, boardID string, status *models.ApprovalStatus) ([]*models.Approval, error) {
	query := `SELECT * FROM approvals WHERE board_id = ?`
	args := []interface{}{boardID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	var approvals []*models.Approval
	if err := r.ro.SelectContext(ctx, &approvals, query, args...); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

func (r *SQLiteRepository) UpdateApproval(ctx context.Context, approval *models.Approval) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE approvals SET status = :status, resolved_at = :resolved_at,
			title = :title, detail = :detail
		WHERE id = :id`, approval)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("approval not found: %s", approval.ID)
	}
	return nil
}
