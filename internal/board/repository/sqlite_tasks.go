package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

const insertTaskSQL = `
	INSERT INTO tasks (id, board_id, title, description, status, priority,
		assigned_agent_id, in_progress_at, review_at, done_at, created_at, updated_at)
	VALUES (:id, :board_id, :title, :description, :status, :priority,
		:assigned_agent_id, :in_progress_at, :review_at, :done_at, :created_at, :updated_at)`

const updateTaskSQL = `
	UPDATE tasks SET title = :title, description = :description, status = :status,
		priority = :priority, assigned_agent_id = :assigned_agent_id,
		in_progress_at = :in_progress_at, review_at = :review_at, done_at = :done_at,
		updated_at = :updated_at
	WHERE id = :id`

func (r *SQLiteRepository) CreateTask(ctx context.Context, task *models.Task, deps []*models.TaskDependency, events []*activitymodels.ActivityEvent) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.TaskInbox
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	return r.taskTx(ctx, events, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertTaskSQL, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		for _, dep := range deps {
			dep.TaskID = task.ID
			dep.CreatedAt = now
			if _, err := tx.NamedExecContext(ctx, insertDependencySQL, dep); err != nil {
				return fmt.Errorf("create task dependency: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := r.ro.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (r *SQLiteRepository) ListTasks(ctx context.Context, boardID string, status *models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT * FROM tasks WHERE board_id = ?`
	args := []interface{}{boardID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at`

	var tasks []*models.Task
	if err := r.ro.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *SQLiteRepository) UpdateTask(ctx context.Context, task *models.Task, events []*activitymodels.ActivityEvent) error {
	task.UpdatedAt = time.Now().UTC()

	return r.taskTx(ctx, events, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, updateTaskSQL, task)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("task not found: %s", task.ID)
		}
		return nil
	})
}

func (r *SQLiteRepository) DeleteTask(ctx context.Context, id string) error {
	return r.taskTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_task_id = ?`, id, id); err != nil {
			return fmt.Errorf("delete task dependencies: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("task not found: %s", id)
		}
		return nil
	})
}

func (r *SQLiteRepository) UnassignAgentTasks(ctx context.Context, agentID string) ([]*models.Task, error) {
	var affected []*models.Task

	err := r.taskTx(ctx, nil, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &affected,
			`SELECT * FROM tasks WHERE assigned_agent_id = ?`, agentID); err != nil {
			return fmt.Errorf("select assigned tasks: %w", err)
		}
		if len(affected) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'inbox', assigned_agent_id = NULL,
				in_progress_at = NULL, updated_at = ?
			WHERE assigned_agent_id = ?`, time.Now().UTC(), agentID)
		if err != nil {
			return fmt.Errorf("unassign agent tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, task := range affected {
		task.Status = models.TaskInbox
		task.AssignedAgentID = nil
		task.InProgressAt = nil
		task.UpdatedAt = now
	}
	return affected, nil
}

const insertDependencySQL = `
	INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at)
	VALUES (:task_id, :depends_on_task_id, :created_at)`

func (r *SQLiteRepository) AddDependency(ctx context.Context, dep *models.TaskDependency) error {
	dep.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, insertDependencySQL, dep)
	if err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?`,
		taskID, dependsOnTaskID)
	if err != nil {
		return fmt.Errorf("remove dependency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("dependency not found: %s -> %s", taskID, dependsOnTaskID)
	}
	return nil
}

func (r *SQLiteRepository) ListDependencies(ctx context.Context, taskID string) ([]*models.TaskDependency, error) {
	var deps []*models.TaskDependency
	err := r.ro.SelectContext(ctx, &deps,
		`SELECT * FROM task_dependencies WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	return deps, nil
}

func (r *SQLiteRepository) ListDependents(ctx context.Context, taskID string) ([]*models.TaskDependency, error) {
	var deps []*models.TaskDependency
	err := r.ro.SelectContext(ctx, &deps,
		`SELECT * FROM task_dependencies WHERE depends_on_task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	return deps, nil
}

func (r *SQLiteRepository) IncompleteDependencyIDs(ctx context.Context, taskID string) ([]string, error) {
	var ids []string
	err := r.ro.SelectContext(ctx, &ids, `
		SELECT d.depends_on_task_id FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id = ? AND t.status != 'done'
		ORDER BY d.created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("incomplete dependencies: %w", err)
	}
	return ids, nil
}

// taskTx runs fn and appends the given activity events in one
// transaction on the writer pool.
func (r *SQLiteRepository) taskTx(ctx context.Context, events []*activitymodels.ActivityEvent, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		if err := activityrepo.InsertEventTx(tx, event); err != nil {
			return fmt.Errorf("append activity event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task tx: %w", err)
	}
	return nil
}
