package service

import (
	"context"
	"fmt"
	"time"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
)

const leadSelfAssignMessage = "Board leads cannot assign tasks to themselves."

// Deleting a task cascades its dependency edges in both directions
// instead of rejecting the delete.
const taskDeleteCascadesDependencies = true

// CreateTaskInput carries new-task fields.
type CreateTaskInput struct {
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	Priority        models.TaskPriority `json:"priority"`
	AssignedAgentID *string             `json:"assigned_agent_id"`
	DependsOn       []string            `json:"depends_on"`
}

// TaskPatch is a partial task update. Assign distinguishes "leave the
// assignee alone" from "set it to AssigneeID (possibly nil)".
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *models.TaskPriority
	Status      *models.TaskStatus
	Assign      bool
	AssigneeID  *string
}

// CreateTask creates a task on a board. Humans need board write;
// among agents only the board lead may create tasks. A request that
// both assigns the task and declares incomplete dependencies is
// rejected, the same conflict the update path reports.
func (s *Service) CreateTask(ctx context.Context, actor *authservice.Actor, boardID string, in CreateTaskInput) (*models.Task, error) {
	if err := s.requireTaskAuthor(actor, boardID); err != nil {
		return nil, err
	}
	if _, err := s.boards.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	title, ok := stringutil.TrimNonEmpty(in.Title)
	if !ok {
		return nil, apperrors.ValidationError("task title is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidTaskPriority(priority) {
		return nil, apperrors.ValidationError("unknown priority: %s", priority)
	}

	deps, blockedBy, err := s.resolveDependencies(ctx, boardID, in.DependsOn)
	if err != nil {
		return nil, err
	}

	var assignee *agentmodels.Agent
	if in.AssignedAgentID != nil {
		if len(blockedBy) > 0 {
			return nil, apperrors.TaskBlocked(blockedBy)
		}
		assignee, err = s.validateAssignee(ctx, boardID, *in.AssignedAgentID)
		if err != nil {
			return nil, err
		}
	}

	task := &models.Task{
		BoardID:         boardID,
		Title:           title,
		Description:     in.Description,
		Status:          models.TaskInbox,
		Priority:        priority,
		AssignedAgentID: in.AssignedAgentID,
	}

	taskEvents := []*activitymodels.ActivityEvent{
		s.taskEvent(events.TaskCreated, task, actor, fmt.Sprintf("Task %q created.", title)),
	}
	if assignee != nil {
		taskEvents = append(taskEvents,
			s.taskEvent(events.TaskAssigned, task, actor,
				fmt.Sprintf("Task %q assigned to %s.", title, assignee.Name)))
	}
	if err := s.boards.CreateTask(ctx, task, deps, taskEvents); err != nil {
		return nil, err
	}

	s.publish(ctx, events.SubjectTaskCreated, task)
	if assignee != nil {
		s.publish(ctx, events.SubjectTaskAssigned, task)
	}
	return task, nil
}

// GetTask returns one task the actor may see.
func (s *Service) GetTask(ctx context.Context, actor *authservice.Actor, id string) (*models.Task, error) {
	task, err := s.boards.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(task.BoardID, false) {
		return nil, apperrors.NotFound("task not found: %s", id)
	}
	return task, nil
}

// ListTasks returns a board's tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, actor *authservice.Actor, boardID string, status *models.TaskStatus) ([]*models.Task, error) {
	if !actor.BoardAccess(boardID, false) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	if status != nil && !models.ValidTaskStatus(*status) {
		return nil, apperrors.ValidationError("unknown status: %s", *status)
	}
	return s.boards.ListTasks(ctx, boardID, status)
}

// BlockedBy returns the ids of incomplete dependencies for a task.
func (s *Service) BlockedBy(ctx context.Context, taskID string) ([]string, error) {
	return s.boards.IncompleteDependencyIDs(ctx, taskID)
}

// UpdateTask applies a patch under the state machine's rules: blocked
// tasks reject status and assignee changes, leads are never assignable,
// and non-lead agents may only move their own tasks.
func (s *Service) UpdateTask(ctx context.Context, actor *authservice.Actor, taskID string, patch TaskPatch) (*models.Task, error) {
	task, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTaskEditor(actor, task, patch); err != nil {
		return nil, err
	}

	statusChange := patch.Status != nil && *patch.Status != task.Status
	assignChange := patch.Assign && !sameAssignee(task.AssignedAgentID, patch.AssigneeID)

	if statusChange || assignChange {
		blocked, err := s.boards.IncompleteDependencyIDs(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if len(blocked) > 0 {
			return nil, apperrors.TaskBlocked(blocked)
		}
	}

	var taskEvents []*activitymodels.ActivityEvent

	if patch.Title != nil {
		title, ok := stringutil.TrimNonEmpty(*patch.Title)
		if !ok {
			return nil, apperrors.ValidationError("task title cannot be empty")
		}
		task.Title = title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		if !models.ValidTaskPriority(*patch.Priority) {
			return nil, apperrors.ValidationError("unknown priority: %s", *patch.Priority)
		}
		task.Priority = *patch.Priority
	}

	var assignee *agentmodels.Agent
	if assignChange {
		if patch.AssigneeID != nil {
			assignee, err = s.validateAssignee(ctx, task.BoardID, *patch.AssigneeID)
			if err != nil {
				return nil, err
			}
			task.AssignedAgentID = patch.AssigneeID
			taskEvents = append(taskEvents,
				s.taskEvent(events.TaskAssigned, task, actor,
					fmt.Sprintf("Task %q assigned to %s.", task.Title, assignee.Name)))
		} else {
			task.AssignedAgentID = nil
			task.Status = models.TaskInbox
			task.InProgressAt = nil
			taskEvents = append(taskEvents,
				s.taskEvent(events.TaskUnassigned, task, actor,
					fmt.Sprintf("Task %q unassigned and returned to inbox.", task.Title)))
		}
	}

	if statusChange {
		if !models.ValidTaskStatus(*patch.Status) {
			return nil, apperrors.ValidationError("unknown status: %s", *patch.Status)
		}
		now := time.Now().UTC()
		task.Status = *patch.Status
		switch task.Status {
		case models.TaskInProgress:
			task.InProgressAt = &now
		case models.TaskReview:
			task.ReviewAt = &now
		case models.TaskDone:
			task.DoneAt = &now
		case models.TaskInbox:
			task.InProgressAt = nil
		}
		taskEvents = append(taskEvents,
			s.taskEvent(events.TaskStatus, task, actor,
				fmt.Sprintf("Task %q moved to %s.", task.Title, task.Status)))
	}

	if err := s.boards.UpdateTask(ctx, task, taskEvents); err != nil {
		return nil, err
	}

	s.publish(ctx, events.SubjectTaskUpdated, task)
	if assignee != nil {
		s.publish(ctx, events.SubjectTaskAssigned, task)
	}
	return task, nil
}

// CommentOnTask appends a task.comment activity event, the unit of the
// chat feed.
func (s *Service) CommentOnTask(ctx context.Context, actor *authservice.Actor, taskID, message string) (*activitymodels.ActivityEvent, error) {
	task, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(task.BoardID, false) {
		return nil, apperrors.NotFound("task not found: %s", taskID)
	}
	trimmed, ok := stringutil.TrimNonEmpty(message)
	if !ok {
		return nil, apperrors.ValidationError("comment cannot be empty")
	}
	event := s.taskEvent(events.TaskComment, task, actor, trimmed)
	if err := s.boards.UpdateTask(ctx, task, []*activitymodels.ActivityEvent{event}); err != nil {
		return nil, err
	}
	return event, nil
}

// DeleteTask removes a task; dependency edges cascade.
func (s *Service) DeleteTask(ctx context.Context, actor *authservice.Actor, taskID string) error {
	task, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.requireTaskAuthor(actor, task.BoardID); err != nil {
		return err
	}
	if !taskDeleteCascadesDependencies {
		dependents, err := s.boards.ListDependents(ctx, taskID)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return apperrors.Conflict(apperrors.CodeDependencyCycle,
				"Other tasks depend on this task.")
		}
	}
	return s.boards.DeleteTask(ctx, taskID)
}

// AddDependency adds a blocked-by edge after rejecting self-references
// and cycles.
func (s *Service) AddDependency(ctx context.Context, actor *authservice.Actor, taskID, dependsOnTaskID string) error {
	if taskID == dependsOnTaskID {
		return apperrors.Conflict(apperrors.CodeDependencyCycle,
			"A task cannot depend on itself.")
	}
	task, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	dependsOn, err := s.boards.GetTask(ctx, dependsOnTaskID)
	if err != nil {
		return err
	}
	if task.BoardID != dependsOn.BoardID {
		return apperrors.ValidationError("dependencies must stay within one board")
	}
	if err := s.requireTaskAuthor(actor, task.BoardID); err != nil {
		return err
	}

	cyclic, err := s.reaches(ctx, dependsOnTaskID, taskID, map[string]bool{})
	if err != nil {
		return err
	}
	if cyclic {
		return apperrors.Conflict(apperrors.CodeDependencyCycle,
			"Adding this dependency would create a cycle.")
	}
	return s.boards.AddDependency(ctx, &models.TaskDependency{
		TaskID:          taskID,
		DependsOnTaskID: dependsOnTaskID,
	})
}

// resolveDependencies validates the depends_on ids of a new task and
// returns the edges to store alongside it, plus the ids that are not
// done yet. Duplicate ids collapse to one edge.
func (s *Service) resolveDependencies(ctx context.Context, boardID string, dependsOn []string) ([]*models.TaskDependency, []string, error) {
	if len(dependsOn) == 0 {
		return nil, nil, nil
	}
	seen := make(map[string]bool, len(dependsOn))
	deps := make([]*models.TaskDependency, 0, len(dependsOn))
	var blockedBy []string
	for _, id := range dependsOn {
		if seen[id] {
			continue
		}
		seen[id] = true
		dep, err := s.boards.GetTask(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if dep.BoardID != boardID {
			return nil, nil, apperrors.ValidationError("dependencies must stay within one board")
		}
		if dep.Status != models.TaskDone {
			blockedBy = append(blockedBy, dep.ID)
		}
		deps = append(deps, &models.TaskDependency{DependsOnTaskID: dep.ID})
	}
	return deps, blockedBy, nil
}

// RemoveDependency deletes a blocked-by edge.
func (s *Service) RemoveDependency(ctx context.Context, actor *authservice.Actor, taskID, dependsOnTaskID string) error {
	task, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.requireTaskAuthor(actor, task.BoardID); err != nil {
		return err
	}
	return s.boards.RemoveDependency(ctx, taskID, dependsOnTaskID)
}

// reaches walks the dependency graph depth-first looking for target.
func (s *Service) reaches(ctx context.Context, from, target string, seen map[string]bool) (bool, error) {
	if from == target {
		return true, nil
	}
	if seen[from] {
		return false, nil
	}
	seen[from] = true
	deps, err := s.boards.ListDependencies(ctx, from)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		found, err := s.reaches(ctx, dep.DependsOnTaskID, target, seen)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// requireTaskAuthor gates task creation and deletion: humans with
// board write, or the board lead.
func (s *Service) requireTaskAuthor(actor *authservice.Actor, boardID string) error {
	switch actor.Type {
	case authservice.ActorUser:
		if !actor.BoardAccess(boardID, true) {
			return apperrors.NotFound("board not found: %s", boardID)
		}
		return nil
	case authservice.ActorAgent:
		if actor.Agent.BoardID == nil || *actor.Agent.BoardID != boardID {
			return apperrors.Forbidden("agent cannot act outside its board")
		}
		if !actor.Agent.IsBoardLead {
			return apperrors.Forbidden("only the board lead can do this")
		}
		return nil
	}
	return apperrors.Forbidden("unknown actor type")
}

// requireTaskEditor gates task patches. Non-lead agents may only
// change the status of tasks assigned to themselves.
func (s *Service) requireTaskEditor(actor *authservice.Actor, task *models.Task, patch TaskPatch) error {
	switch actor.Type {
	case authservice.ActorUser:
		if !actor.BoardAccess(task.BoardID, true) {
			return apperrors.NotFound("task not found: %s", task.ID)
		}
		return nil
	case authservice.ActorAgent:
		agent := actor.Agent
		if agent.BoardID == nil || *agent.BoardID != task.BoardID {
			return apperrors.NotFound("task not found: %s", task.ID)
		}
		if agent.IsBoardLead {
			return nil
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agent.ID {
			return apperrors.Forbidden("agents can only update tasks assigned to them")
		}
		if patch.Assign {
			return apperrors.Forbidden("only the board lead can reassign tasks")
		}
		if patch.Title != nil || patch.Description != nil || patch.Priority != nil {
			return apperrors.Forbidden("agents can only change task status")
		}
		return nil
	}
	return apperrors.Forbidden("unknown actor type")
}

// validateAssignee checks the agent exists, sits on the right board,
// and is not the board lead.
func (s *Service) validateAssignee(ctx context.Context, boardID, agentID string) (*agentmodels.Agent, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.BoardID == nil || *agent.BoardID != boardID {
		return nil, apperrors.ValidationError("agent %s is not on this board", agentID)
	}
	if agent.IsBoardLead {
		return nil, apperrors.Forbidden(leadSelfAssignMessage)
	}
	return agent, nil
}

func (s *Service) taskEvent(eventType string, task *models.Task, actor *authservice.Actor, message string) *activitymodels.ActivityEvent {
	event := &activitymodels.ActivityEvent{
		EventType: eventType,
		Message:   message,
		TaskID:    &task.ID,
	}
	if actor != nil && actor.Type == authservice.ActorAgent {
		event.AgentID = &actor.Agent.ID
	}
	return event
}

func (s *Service) publish(ctx context.Context, subject string, task *models.Task) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{
		"task_id":  task.ID,
		"board_id": task.BoardID,
		"status":   string(task.Status),
	}
	if task.AssignedAgentID != nil {
		data["assigned_agent_id"] = *task.AssignedAgentID
	}
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(subject, "board-service", data)); err != nil {
		s.log.WithError(err).WithTaskID(task.ID).Warn("event publish failed")
	}
}

func sameAssignee(current, next *string) bool {
	if current == nil && next == nil {
		return true
	}
	if current == nil || next == nil {
		return false
	}
	return *current == *next
}
