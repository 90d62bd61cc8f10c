package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/service"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// Handler serves the board API.
type Handler struct {
	service        *service.Service
	organizationID string
	logger         *logger.Logger
}

// NewHandler creates the board API handler.
func NewHandler(svc *service.Service, organizationID string, log *logger.Logger) *Handler {
	return &Handler{service: svc, organizationID: organizationID, logger: log}
}

// ListBoards returns the boards the actor can see.
// GET /api/v1/boards
func (h *Handler) ListBoards(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	boards, err := h.service.ListBoards(c.Request.Context(), actor, h.organizationID)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

// CreateBoard creates a board.
// POST /api/v1/boards
func (h *Handler) CreateBoard(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateBoardInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	board, err := h.service.CreateBoard(c.Request.Context(), actor, h.organizationID, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, board)
}

// GetBoard returns one board.
// GET /api/v1/boards/:boardId
func (h *Handler) GetBoard(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	board, err := h.service.GetBoard(c.Request.Context(), actor, c.Param("boardId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// UpdateBoard patches board metadata.
// PATCH /api/v1/boards/:boardId
func (h *Handler) UpdateBoard(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.UpdateBoardInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	board, err := h.service.UpdateBoard(c.Request.Context(), actor, c.Param("boardId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// DeleteBoard removes a board.
// DELETE /api/v1/boards/:boardId
func (h *Handler) DeleteBoard(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.DeleteBoard(c.Request.Context(), actor, c.Param("boardId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListTasks returns a board's tasks, optionally filtered by status.
// GET /api/v1/boards/:boardId/tasks?status=
func (h *Handler) ListTasks(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var status *models.TaskStatus
	if raw := c.Query("status"); raw != "" {
		parsed := models.TaskStatus(raw)
		if !models.ValidTaskStatus(parsed) {
			httpmw.Error(c, h.logger, apperrors.ValidationError("unknown status: %s", raw))
			return
		}
		status = &parsed
	}
	tasks, err := h.service.ListTasks(c.Request.Context(), actor, c.Param("boardId"), status)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// CreateTask creates a task on a board.
// POST /api/v1/boards/:boardId/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	task, err := h.service.CreateTask(c.Request.Context(), actor, c.Param("boardId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GetTask returns one task.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	task, err := h.service.GetTask(c.Request.Context(), actor, c.Param("taskId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// taskPatchRequest mirrors service.TaskPatch on the wire. The raw
// body is inspected so "assigned_agent_id": null means unassign while
// an absent key leaves the assignee alone.
type taskPatchRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Priority    *models.TaskPriority `json:"priority"`
	Status      *models.TaskStatus   `json:"status"`
	AssigneeID  *string              `json:"assigned_agent_id"`
}

// UpdateTask patches a task.
// PATCH /api/v1/tasks/:taskId
func (h *Handler) UpdateTask(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("cannot read request body: %v", err))
		return
	}
	var req taskPatchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	_, assign := keys["assigned_agent_id"]

	patch := service.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		Assign:      assign,
		AssigneeID:  req.AssigneeID,
	}
	task, err := h.service.UpdateTask(c.Request.Context(), actor, c.Param("taskId"), patch)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask removes a task and its dependency edges.
// DELETE /api/v1/tasks/:taskId
func (h *Handler) DeleteTask(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.DeleteTask(c.Request.Context(), actor, c.Param("taskId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CommentOnTask appends a comment activity event to a task.
// POST /api/v1/tasks/:taskId/comments
func (h *Handler) CommentOnTask(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	comment, err := h.service.CommentOnTask(c.Request.Context(), actor, c.Param("taskId"), req.Message)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// AddDependency blocks a task on another.
// POST /api/v1/tasks/:taskId/dependencies
func (h *Handler) AddDependency(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var req struct {
		DependsOnTaskID string `json:"depends_on_task_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if err := h.service.AddDependency(c.Request.Context(), actor, c.Param("taskId"), req.DependsOnTaskID); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveDependency unblocks a task.
// DELETE /api/v1/tasks/:taskId/dependencies/:dependsOnId
func (h *Handler) RemoveDependency(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.RemoveDependency(c.Request.Context(), actor, c.Param("taskId"), c.Param("dependsOnId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMemory returns board memory entries.
// GET /api/v1/boards/:boardId/memory?is_chat=&limit=&offset=
func (h *Handler) ListMemory(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var isChat *bool
	if raw := c.Query("is_chat"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpmw.Error(c, h.logger, apperrors.ValidationError("is_chat must be a boolean"))
			return
		}
		isChat = &parsed
	}
	limit, offset := pagination(c)
	memories, err := h.service.ListMemory(c.Request.Context(), actor, c.Param("boardId"), isChat, limit, offset)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

// CreateMemory appends a board memory entry.
// POST /api/v1/boards/:boardId/memory
func (h *Handler) CreateMemory(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateMemoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	memory, err := h.service.CreateMemory(c.Request.Context(), actor, c.Param("boardId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, memory)
}

// ListApprovals returns board approvals, optionally by status.
// GET /api/v1/boards/:boardId/approvals?status=
func (h *Handler) ListApprovals(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var status *models.ApprovalStatus
	if raw := c.Query("status"); raw != "" {
		parsed := models.ApprovalStatus(raw)
		status = &parsed
	}
	approvals, err := h.service.ListApprovals(c.Request.Context(), actor, c.Param("boardId"), status)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// CreateApproval files an approval request.
// POST /api/v1/boards/:boardId/approvals
func (h *Handler) CreateApproval(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateApprovalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	approval, err := h.service.CreateApproval(c.Request.Context(), actor, c.Param("boardId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, approval)
}

// ResolveApproval approves or rejects a pending approval.
// POST /api/v1/approvals/:approvalId/resolve
func (h *Handler) ResolveApproval(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var req struct {
		Status models.ApprovalStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	approval, err := h.service.ResolveApproval(c.Request.Context(), actor, c.Param("approvalId"), req.Status)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

// GetOnboarding returns the board onboarding state.
// GET /api/v1/boards/:boardId/onboarding
func (h *Handler) GetOnboarding(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	state, err := h.service.Onboarding(c.Request.Context(), actor, c.Param("boardId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// UpdateOnboarding patches the board onboarding state.
// PATCH /api/v1/boards/:boardId/onboarding
func (h *Handler) UpdateOnboarding(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	state, err := h.service.UpdateOnboarding(c.Request.Context(), actor, c.Param("boardId"), patch)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}
