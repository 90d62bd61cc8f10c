// Package service implements board lifecycle, the task state machine,
// dependency blocking, board memory, and approvals.
package service

import (
	"context"
	"strings"
	"time"

	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
)

// Service is the board domain facade.
type Service struct {
	boards boardrepo.Repository
	agents agentrepo.Repository
	bus    bus.EventBus
	log    *logger.Logger
}

// NewService wires the board service.
func NewService(boards boardrepo.Repository, agents agentrepo.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{boards: boards, agents: agents, bus: eventBus, log: log}
}

// CreateBoardInput carries new-board fields.
type CreateBoardInput struct {
	Name       string     `json:"name"`
	Objective  string     `json:"objective"`
	GatewayID  *string    `json:"gateway_id"`
	TargetDate *time.Time `json:"target_date"`
}

// CreateBoard creates a board for the actor's organization. Only
// admin members may create boards.
func (s *Service) CreateBoard(ctx context.Context, actor *authservice.Actor, organizationID string, in CreateBoardInput) (*models.Board, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only organization admins can create boards")
	}
	name, ok := stringutil.TrimNonEmpty(in.Name)
	if !ok {
		return nil, apperrors.ValidationError("board name is required")
	}

	existing, err := s.boards.ListBoards(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if strings.EqualFold(other.Name, name) {
			return nil, apperrors.Conflict(apperrors.CodeNameCollision,
				"A board with this name already exists.")
		}
	}

	board := &models.Board{
		OrganizationID: organizationID,
		GatewayID:      in.GatewayID,
		Name:           name,
		Objective:      in.Objective,
		TargetDate:     in.TargetDate,
	}
	if err := s.boards.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	return board, nil
}

// GetBoard returns one board the actor may see.
func (s *Service) GetBoard(ctx context.Context, actor *authservice.Actor, id string) (*models.Board, error) {
	board, err := s.boards.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(board.ID, false) {
		return nil, apperrors.NotFound("board not found: %s", id)
	}
	return board, nil
}

// ListBoards returns the actor's accessible boards.
func (s *Service) ListBoards(ctx context.Context, actor *authservice.Actor, organizationID string) ([]*models.Board, error) {
	all, err := s.boards.ListBoards(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	visible := make([]*models.Board, 0, len(all))
	for _, board := range all {
		if actor.BoardAccess(board.ID, false) {
			visible = append(visible, board)
		}
	}
	return visible, nil
}

// AccessibleBoardIDs returns the ids the actor may observe, used to
// scope activity queries and SSE streams.
func (s *Service) AccessibleBoardIDs(ctx context.Context, actor *authservice.Actor, organizationID string) ([]string, error) {
	boards, err := s.ListBoards(ctx, actor, organizationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(boards))
	for _, board := range boards {
		ids = append(ids, board.ID)
	}
	return ids, nil
}

// UpdateBoardInput carries board meta changes.
type UpdateBoardInput struct {
	Name          *string    `json:"name"`
	Objective     *string    `json:"objective"`
	GatewayID     *string    `json:"gateway_id"`
	TargetDate    *time.Time `json:"target_date"`
	GoalConfirmed *bool      `json:"goal_confirmed"`
}

// UpdateBoard patches board metadata. Agents may not change board
// meta, not even leads.
func (s *Service) UpdateBoard(ctx context.Context, actor *authservice.Actor, id string, in UpdateBoardInput) (*models.Board, error) {
	if actor.Type == authservice.ActorAgent {
		return nil, apperrors.Forbidden("agents cannot modify board settings")
	}
	if !actor.BoardAccess(id, true) {
		return nil, apperrors.NotFound("board not found: %s", id)
	}
	board, err := s.boards.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name, ok := stringutil.TrimNonEmpty(*in.Name)
		if !ok {
			return nil, apperrors.ValidationError("board name cannot be empty")
		}
		board.Name = name
	}
	if in.Objective != nil {
		board.Objective = *in.Objective
	}
	if in.GatewayID != nil {
		board.GatewayID = in.GatewayID
	}
	if in.TargetDate != nil {
		board.TargetDate = in.TargetDate
	}
	if in.GoalConfirmed != nil {
		board.GoalConfirmed = *in.GoalConfirmed
	}
	if err := s.boards.UpdateBoard(ctx, board); err != nil {
		return nil, err
	}
	return board, nil
}

// DeleteBoard removes an empty board. Admin only.
func (s *Service) DeleteBoard(ctx context.Context, actor *authservice.Actor, id string) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("only organization admins can delete boards")
	}
	agents, err := s.agents.ListByBoard(ctx, id)
	if err != nil {
		return err
	}
	if len(agents) > 0 {
		return apperrors.Conflict(apperrors.CodeRegistryConflict,
			"Delete the board's agents before deleting the board.")
	}
	return s.boards.DeleteBoard(ctx, id)
}

// Onboarding returns the board's onboarding state document.
func (s *Service) Onboarding(ctx context.Context, actor *authservice.Actor, boardID string) (map[string]interface{}, error) {
	board, err := s.GetBoard(ctx, actor, boardID)
	if err != nil {
		return nil, err
	}
	if board.Onboarding == nil {
		return map[string]interface{}{}, nil
	}
	return board.Onboarding, nil
}

// UpdateOnboarding merges keys into the onboarding document.
func (s *Service) UpdateOnboarding(ctx context.Context, actor *authservice.Actor, boardID string, patch map[string]interface{}) (map[string]interface{}, error) {
	if !actor.BoardAccess(boardID, true) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	board, err := s.boards.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board.Onboarding == nil {
		board.Onboarding = map[string]interface{}{}
	}
	for k, v := range patch {
		board.Onboarding[k] = v
	}
	if err := s.boards.UpdateBoard(ctx, board); err != nil {
		return nil, err
	}
	return board.Onboarding, nil
}

// CreateMemoryInput carries one board memory entry.
type CreateMemoryInput struct {
	Content string   `json:"content"`
	IsChat  bool     `json:"is_chat"`
	Source  string   `json:"source"`
	Tags    []string `json:"tags"`
}

// CreateMemory appends a board memory entry.
func (s *Service) CreateMemory(ctx context.Context, actor *authservice.Actor, boardID string, in CreateMemoryInput) (*models.BoardMemory, error) {
	if !actor.BoardAccess(boardID, true) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	content, ok := stringutil.TrimNonEmpty(in.Content)
	if !ok {
		return nil, apperrors.ValidationError("memory content is required")
	}
	source := in.Source
	if source == "" {
		switch actor.Type {
		case authservice.ActorAgent:
			source = "agent:" + actor.Agent.ID
		default:
			source = "user"
		}
	}
	memory := &models.BoardMemory{
		BoardID: boardID,
		Content: content,
		IsChat:  in.IsChat,
		Source:  source,
		Tags:    in.Tags,
	}
	if err := s.boards.CreateMemory(ctx, memory); err != nil {
		return nil, err
	}
	return memory, nil
}

// ListMemory pages a board's memory entries, newest first.
func (s *Service) ListMemory(ctx context.Context, actor *authservice.Actor, boardID string, isChat *bool, limit, offset int) ([]*models.BoardMemory, error) {
	if !actor.BoardAccess(boardID, false) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	return s.boards.ListMemory(ctx, boardID, isChat, limit, offset)
}

// CreateApprovalInput carries one approval request.
type CreateApprovalInput struct {
	TaskID *string `json:"task_id"`
	Title  string  `json:"title"`
	Detail string  `json:"detail"`
}

// CreateApproval files an approval request on a board.
func (s *Service) CreateApproval(ctx context.Context, actor *authservice.Actor, boardID string, in CreateApprovalInput) (*models.Approval, error) {
	if !actor.BoardAccess(boardID, true) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	title, ok := stringutil.TrimNonEmpty(in.Title)
	if !ok {
		return nil, apperrors.ValidationError("approval title is required")
	}
	approval := &models.Approval{
		BoardID: boardID,
		TaskID:  in.TaskID,
		Title:   title,
		Detail:  in.Detail,
		Status:  models.ApprovalPending,
	}
	if actor.Type == authservice.ActorAgent {
		approval.RequestedByAgentID = &actor.Agent.ID
	}
	if err := s.boards.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// ListApprovals pages a board's approvals.
func (s *Service) ListApprovals(ctx context.Context, actor *authservice.Actor, boardID string, status *models.ApprovalStatus) ([]*models.Approval, error) {
	if !actor.BoardAccess(boardID, false) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	return s.boards.ListApprovals(ctx, boardID, status)
}

// ResolveApproval marks an approval approved or rejected. Humans only.
func (s *Service) ResolveApproval(ctx context.Context, actor *authservice.Actor, id string, status models.ApprovalStatus) (*models.Approval, error) {
	if actor.Type != authservice.ActorUser {
		return nil, apperrors.Forbidden("only users can resolve approvals")
	}
	if status != models.ApprovalApproved && status != models.ApprovalRejected {
		return nil, apperrors.ValidationError("status must be approved or rejected")
	}
	approval, err := s.boards.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.BoardAccess(approval.BoardID, true) {
		return nil, apperrors.NotFound("approval not found: %s", id)
	}
	now := time.Now().UTC()
	approval.Status = status
	approval.ResolvedAt = &now
	if err := s.boards.UpdateApproval(ctx, approval); err != nil {
		return nil, err
	}
	return approval, nil
}
