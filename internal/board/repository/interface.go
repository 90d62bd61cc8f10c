// Package repository persists boards, tasks, dependency edges, board
// memory, and approvals.
package repository

import (
	"context"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
)

// Repository is the board-domain store. Task mutations accept activity
// events that are appended inside the same transaction as the state
// change, so the log stays in commit order per board.
type Repository interface {
	CreateBoard(ctx context.Context, board *models.Board) error
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	ListBoards(ctx context.Context, organizationID string) ([]*models.Board, error)
	ListBoardsByGateway(ctx context.Context, gatewayID string) ([]*models.Board, error)
	UpdateBoard(ctx context.Context, board *models.Board) error
	DeleteBoard(ctx context.Context, id string) error

	// CreateTask inserts the task together with its dependency edges in
	// one transaction, so a task never exists with only part of its
	// blocked-by set.
	CreateTask(ctx context.Context, task *models.Task, deps []*models.TaskDependency, events []*activitymodels.ActivityEvent) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, boardID string, status *models.TaskStatus) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task, events []*activitymodels.ActivityEvent) error
	DeleteTask(ctx context.Context, id string) error

	// UnassignAgentTasks resets every task assigned to agentID back to
	// inbox and returns the affected tasks.
	UnassignAgentTasks(ctx context.Context, agentID string) ([]*models.Task, error)

	AddDependency(ctx context.Context, dep *models.TaskDependency) error
	RemoveDependency(ctx context.Context, taskID, dependsOnTaskID string) error
	ListDependencies(ctx context.Context, taskID string) ([]*models.TaskDependency, error)
	ListDependents(ctx context.Context, taskID string) ([]*models.TaskDependency, error)

	// IncompleteDependencyIDs returns the blocked_by closure: ids of
	// direct dependencies whose status is not done.
	IncompleteDependencyIDs(ctx context.Context, taskID string) ([]string, error)

	CreateMemory(ctx context.Context, memory *models.BoardMemory) error
	ListMemory(ctx context.Context, boardID string, isChat *bool, limit, offset int) ([]*models.BoardMemory, error)
	LatestChatMemory(ctx context.Context, boardID string) (*models.BoardMemory, error)

	CreateApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	ListApprovals(ctx context.Context, boardID string, status *models.ApprovalStatus) ([]*models.Approval, error)
	UpdateApproval(ctx context.Context, approval *models.Approval) error
}
