package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
)

// MemoryRepository is the in-memory board-domain store used by tests.
// AppendEvent, when set, receives the activity events a task mutation
// carries; tests wire it to the in-memory activity store.
type MemoryRepository struct {
	mu        sync.RWMutex
	boards    map[string]*models.Board
	tasks     map[string]*models.Task
	deps      []models.TaskDependency
	memories  map[string]*models.BoardMemory
	approvals map[string]*models.Approval

	AppendEvent func(event *activitymodels.ActivityEvent)
}

// NewMemory creates an empty in-memory board store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		boards:    make(map[string]*models.Board),
		tasks:     make(map[string]*models.Task),
		memories:  make(map[string]*models.BoardMemory),
		approvals: make(map[string]*models.Approval),
	}
}

func (r *MemoryRepository) CreateBoard(_ context.Context, board *models.Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if board.ID == "" {
		board.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	board.CreatedAt = now
	board.UpdatedAt = now
	copied := *board
	r.boards[board.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetBoard(_ context.Context, id string) (*models.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	board, ok := r.boards[id]
	if !ok {
		return nil, apperrors.NotFound("board not found: %s", id)
	}
	copied := *board
	return &copied, nil
}

func (r *MemoryRepository) ListBoards(_ context.Context, organizationID string) ([]*models.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Board
	for _, board := range r.boards {
		if board.OrganizationID == organizationID {
			copied := *board
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListBoardsByGateway(_ context.Context, gatewayID string) ([]*models.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Board
	for _, board := range r.boards {
		if board.GatewayID != nil && *board.GatewayID == gatewayID {
			copied := *board
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateBoard(_ context.Context, board *models.Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boards[board.ID]; !ok {
		return apperrors.NotFound("board not found: %s", board.ID)
	}
	board.UpdatedAt = time.Now().UTC()
	copied := *board
	r.boards[board.ID] = &copied
	return nil
}

func (r *MemoryRepository) DeleteBoard(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boards[id]; !ok {
		return apperrors.NotFound("board not found: %s", id)
	}
	delete(r.boards, id)
	return nil
}

func (r *MemoryRepository) CreateTask(_ context.Context, task *models.Task, deps []*models.TaskDependency, events []*activitymodels.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	copied := *task
	r.tasks[task.ID] = &copied
	for _, dep := range deps {
		dep.TaskID = task.ID
		dep.CreatedAt = now
		r.deps = append(r.deps, *dep)
	}
	r.appendLocked(events)
	return nil
}

func (r *MemoryRepository) GetTask(_ context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task not found: %s", id)
	}
	copied := *task
	return &copied, nil
}

func (r *MemoryRepository) ListTasks(_ context.Context, boardID string, status *models.TaskStatus) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, task := range r.tasks {
		if task.BoardID != boardID {
			continue
		}
		if status != nil && task.Status != *status {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateTask(_ context.Context, task *models.Task, events []*activitymodels.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return apperrors.NotFound("task not found: %s", task.ID)
	}
	task.UpdatedAt = time.Now().UTC()
	copied := *task
	r.tasks[task.ID] = &copied
	r.appendLocked(events)
	return nil
}

func (r *MemoryRepository) DeleteTask(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return apperrors.NotFound("task not found: %s", id)
	}
	delete(r.tasks, id)
	kept := r.deps[:0]
	for _, dep := range r.deps {
		if dep.TaskID != id && dep.DependsOnTaskID != id {
			kept = append(kept, dep)
		}
	}
	r.deps = kept
	return nil
}

func (r *MemoryRepository) UnassignAgentTasks(_ context.Context, agentID string) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*models.Task
	for _, task := range r.tasks {
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			continue
		}
		task.Status = models.TaskInbox
		task.AssignedAgentID = nil
		task.InProgressAt = nil
		task.UpdatedAt = now
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) AddDependency(_ context.Context, dep *models.TaskDependency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.deps {
		if existing.TaskID == dep.TaskID && existing.DependsOnTaskID == dep.DependsOnTaskID {
			return apperrors.Conflict(apperrors.CodeRegistryConflict, "dependency already exists")
		}
	}
	dep.CreatedAt = time.Now().UTC()
	r.deps = append(r.deps, *dep)
	return nil
}

func (r *MemoryRepository) RemoveDependency(_ context.Context, taskID, dependsOnTaskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, dep := range r.deps {
		if dep.TaskID == taskID && dep.DependsOnTaskID == dependsOnTaskID {
			r.deps = append(r.deps[:i], r.deps[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("dependency not found: %s -> %s", taskID, dependsOnTaskID)
}

func (r *MemoryRepository) ListDependencies(_ context.Context, taskID string) ([]*models.TaskDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskDependency
	for _, dep := range r.deps {
		if dep.TaskID == taskID {
			copied := dep
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListDependents(_ context.Context, taskID string) ([]*models.TaskDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskDependency
	for _, dep := range r.deps {
		if dep.DependsOnTaskID == taskID {
			copied := dep
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryRepository) IncompleteDependencyIDs(_ context.Context, taskID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, dep := range r.deps {
		if dep.TaskID != taskID {
			continue
		}
		task, ok := r.tasks[dep.DependsOnTaskID]
		if !ok || task.Status != models.TaskDone {
			out = append(out, dep.DependsOnTaskID)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateMemory(_ context.Context, memory *models.BoardMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if memory.ID == "" {
		memory.ID = uuid.New().String()
	}
	memory.CreatedAt = time.Now().UTC()
	copied := *memory
	r.memories[memory.ID] = &copied
	return nil
}

func (r *MemoryRepository) ListMemory(_ context.Context, boardID string, isChat *bool, limit, offset int) ([]*models.BoardMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.BoardMemory
	for _, memory := range r.memories {
		if memory.BoardID != boardID {
			continue
		}
		if isChat != nil && memory.IsChat != *isChat {
			continue
		}
		copied := *memory
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 {
		limit = 100
	}
	if offset >= len(out) {
		return []*models.BoardMemory{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) LatestChatMemory(_ context.Context, boardID string) (*models.BoardMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *models.BoardMemory
	for _, memory := range r.memories {
		if memory.BoardID != boardID || !memory.IsChat {
			continue
		}
		if latest == nil || memory.CreatedAt.After(latest.CreatedAt) {
			latest = memory
		}
	}
	if latest == nil {
		return nil, apperrors.NotFound("board %s has no chat memory", boardID)
	}
	copied := *latest
	return &copied, nil
}

func (r *MemoryRepository) CreateApproval(_ context.Context, approval *models.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}
	approval.CreatedAt = time.Now().UTC()
	if approval.Status == "" {
		approval.Status = models.ApprovalPending
	}
	copied := *approval
	r.approvals[approval.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	approval, ok := r.approvals[id]
	if !ok {
		return nil, apperrors.NotFound("approval not found: %s", id)
	}
	copied := *approval
	return &copied, nil
}

func (r *MemoryRepository) ListApprovals(_ context.Context, boardID string, status *models.ApprovalStatus) ([]*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Approval
	for _, approval := range r.approvals {
		if approval.BoardID != boardID {
			continue
		}
		if status != nil && approval.Status != *status {
			continue
		}
		copied := *approval
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateApproval(_ context.Context, approval *models.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[approval.ID]; !ok {
		return apperrors.NotFound("approval not found: %s", approval.ID)
	}
	copied := *approval
	r.approvals[approval.ID] = &copied
	return nil
}

func (r *MemoryRepository) appendLocked(events []*activitymodels.ActivityEvent) {
	if r.AppendEvent == nil {
		return
	}
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		r.AppendEvent(event)
	}
}
