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
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
)

// SQLiteRepository stores webhooks and payloads in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

func (r *SQLiteRepository) Create(ctx context.Context, webhook *models.BoardWebhook) error {
	if webhook.ID == "" {
		webhook.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO board_webhooks (id, board_id, name, instruction, enabled, created_at, updated_at)
		VALUES (:id, :board_id, :name, :instruction, :enabled, :created_at, :updated_at)`, webhook)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.BoardWebhook, error) {
	var webhook models.BoardWebhook
	err := r.ro.GetContext(ctx, &webhook, `SELECT * FROM board_webhooks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("webhook not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &webhook, nil
}

func (r *SQLiteRepository) ListByBoard(ctx context.Context, boardID string) ([]*models.BoardWebhook, error) {
	var webhooks []*models.BoardWebhook
	err := r.ro.SelectContext(ctx, &webhooks,
		`SELECT * FROM board_webhooks WHERE board_id = ? ORDER BY created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, webhook *models.BoardWebhook) error {
	webhook.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE board_webhooks SET name = :name, instruction = :instruction,
			enabled = :enabled, updated_at = :updated_at
		WHERE id = :id`, webhook)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("webhook not found: %s", webhook.ID)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM board_webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("webhook not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) CreatePayload(ctx context.Context, payload *models.Payload) error {
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now().UTC()
	}
	if payload.Headers == nil {
		payload.Headers = map[string]interface{}{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO board_webhook_payloads (id, webhook_id, board_id, body,
			content_type, headers, source_ip, received_at)
		VALUES (:id, :webhook_id, :board_id, :body,
			:content_type, :headers, :source_ip, :received_at)`, payload)
	if err != nil {
		return fmt.Errorf("create webhook payload: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetPayload(ctx context.Context, id string) (*models.Payload, error) {
	var payload models.Payload
	err := r.ro.GetContext(ctx, &payload, `SELECT * FROM board_webhook_payloads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("webhook payload not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook payload: %w", err)
	}
	return &payload, nil
}

func (r *SQLiteRepository) ListPayloads(ctx context.Context, webhookID string, limit, offset int) ([]*models.Payload, error) {
	if limit <= 0 {
		limit = 100
	}
	var payloads []*models.Payload
	err := r.ro.SelectContext(ctx, &payloads, fmt.Sprintf(`
		SELECT * FROM board_webhook_payloads WHERE webhook_id = ?
		ORDER BY received_at DESC LIMIT %d OFFSET %d`, limit, offset), webhookID)
	if err != nil {
		return nil, fmt.Errorf("list webhook payloads: %w", err)
	}
	return payloads, nil
}

func (r *SQLiteRepository) DeletePayloadsByWebhook(ctx context.Context, webhookID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM board_webhook_payloads WHERE webhook_id = ?`, webhookID)
	if err != nil {
		return fmt.Errorf("delete webhook payloads: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PayloadsReceivedSince(ctx context.Context, cutoff time.Time) ([]*models.Payload, error) {
	var payloads []*models.Payload
	err := r.ro.SelectContext(ctx, &payloads, `
		SELECT * FROM board_webhook_payloads WHERE received_at >= ?
		ORDER BY received_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("payloads received since: %w", err)
	}
	return payloads, nil
}
