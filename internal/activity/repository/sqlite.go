package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
)

// defaultEvent fills the id and timestamp when the caller left them
// empty.
func defaultEvent(event *models.ActivityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}

// SQLiteRepository stores activity events in the shared database.
type SQLiteRepository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewSQLite builds the repository over the shared writer/reader pools.
func NewSQLite(writer, reader *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: writer, ro: reader}
}

const insertEventSQL = `
	INSERT INTO activity_events (id, event_type, message, task_id, agent_id, payload_id, created_at)
	VALUES (:id, :event_type, :message, :task_id, :agent_id, :payload_id, :created_at)`

// InsertEventTx appends an event inside an open transaction so callers
// can commit it atomically with the state change that produced it.
func InsertEventTx(tx *sqlx.Tx, event *models.ActivityEvent) error {
	defaultEvent(event)
	_, err := tx.NamedExec(insertEventSQL, event)
	return err
}

func (r *SQLiteRepository) Append(ctx context.Context, event *models.ActivityEvent) error {
	defaultEvent(event)
	_, err := r.db.NamedExecContext(ctx, insertEventSQL, event)
	if err != nil {
		return fmt.Errorf("append activity event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) ([]*models.ActivityEvent, error) {
	query := `SELECT ae.* FROM activity_events ae`
	var where []string
	var args []interface{}

	if filter.BoardIDs != nil {
		if len(filter.BoardIDs) == 0 {
			return []*models.ActivityEvent{}, nil
		}
		query += ` JOIN tasks t ON ae.task_id = t.id`
		in, inArgs, err := sqlx.In(`t.board_id IN (?)`, filter.BoardIDs)
		if err != nil {
			return nil, err
		}
		where = append(where, in)
		args = append(args, inArgs...)
	}
	if filter.AgentID != "" {
		where = append(where, `ae.agent_id = ?`)
		args = append(args, filter.AgentID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY ae.created_at DESC`
	query += limitOffset(filter.Limit, filter.Offset)

	var events []*models.ActivityEvent
	if err := r.ro.SelectContext(ctx, &events, r.ro.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list activity events: %w", err)
	}
	return events, nil
}

const feedSelectSQL = `
	SELECT ae.id, ae.created_at, ae.message, ae.agent_id,
	       a.name AS agent_name, a.identity_profile AS agent_profile,
	       t.id AS task_id, t.title AS task_title,
	       b.id AS board_id, b.name AS board_name
	FROM activity_events ae
	JOIN tasks t ON ae.task_id = t.id
	JOIN boards b ON t.board_id = b.id
	LEFT JOIN agents a ON ae.agent_id = a.id
	WHERE ae.event_type = 'task.comment'
	  AND length(trim(ae.message)) > 0`

type feedRow struct {
	ID           string    `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	Message      string    `db:"message"`
	AgentID      *string   `db:"agent_id"`
	AgentName    *string   `db:"agent_name"`
	AgentProfile *string   `db:"agent_profile"`
	TaskID       string    `db:"task_id"`
	TaskTitle    string    `db:"task_title"`
	BoardID      string    `db:"board_id"`
	BoardName    string    `db:"board_name"`
}

func (r *SQLiteRepository) ListFeed(ctx context.Context, boardIDs []string, limit, offset int) ([]*models.FeedItem, error) {
	query := feedSelectSQL
	var args []interface{}
	if boardIDs != nil {
		if len(boardIDs) == 0 {
			return []*models.FeedItem{}, nil
		}
		in, inArgs, err := sqlx.In(` AND t.board_id IN (?)`, boardIDs)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY ae.created_at DESC` + limitOffset(limit, offset)

	return r.selectFeed(ctx, query, args)
}

func (r *SQLiteRepository) FeedSince(ctx context.Context, since time.Time, boardIDs []string) ([]*models.FeedItem, error) {
	query := feedSelectSQL + ` AND ae.created_at >= ?`
	args := []interface{}{since}
	if boardIDs != nil {
		if len(boardIDs) == 0 {
			return []*models.FeedItem{}, nil
		}
		in, inArgs, err := sqlx.In(` AND t.board_id IN (?)`, boardIDs)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY ae.created_at ASC`

	return r.selectFeed(ctx, query, args)
}

func (r *SQLiteRepository) selectFeed(ctx context.Context, query string, args []interface{}) ([]*models.FeedItem, error) {
	var rows []feedRow
	if err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select comment feed: %w", err)
	}
	items := make([]*models.FeedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

func (row feedRow) toItem() *models.FeedItem {
	item := &models.FeedItem{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		Message:   row.Message,
		AgentID:   row.AgentID,
		AgentName: row.AgentName,
		TaskID:    row.TaskID,
		TaskTitle: row.TaskTitle,
		BoardID:   row.BoardID,
		BoardName: row.BoardName,
	}
	if role := profileRole(row.AgentProfile); role != "" {
		item.AgentRole = &role
	}
	return item
}

// profileRole extracts a trimmed role string from a serialized identity
// profile.
func profileRole(profile *string) string {
	if profile == nil || *profile == "" {
		return ""
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(*profile), &parsed); err != nil {
		return ""
	}
	role, _ := parsed["role"].(string)
	return strings.TrimSpace(role)
}

func (r *SQLiteRepository) HasEventForPayload(ctx context.Context, eventType, payloadID string) (bool, error) {
	var count int
	err := r.ro.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM activity_events WHERE event_type = ? AND payload_id = ?`,
		eventType, payloadID)
	if err != nil {
		return false, fmt.Errorf("check payload event: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepository) ClearAgent(ctx context.Context, agentID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE activity_events SET agent_id = NULL WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("clear agent on activity events: %w", err)
	}
	return nil
}

func limitOffset(limit, offset int) string {
	if limit <= 0 {
		limit = 100
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
