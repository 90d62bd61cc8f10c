// Package handlers exposes gateway management, raw session access,
// coordinator messaging, and the template sync trigger.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/templatesync"
)

// Handler serves the gateway API.
type Handler struct {
	service      *service.Service
	coordinator  *service.Coordinator
	sync         *templatesync.Engine
	dialer       service.Dialer
	syncDeadline time.Duration
	logger       *logger.Logger
}

// NewHandler creates the gateway API handler.
func NewHandler(svc *service.Service, coord *service.Coordinator, sync *templatesync.Engine,
	dialer service.Dialer, syncDeadline time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		service:      svc,
		coordinator:  coord,
		sync:         sync,
		dialer:       dialer,
		syncDeadline: syncDeadline,
		logger:       log,
	}
}

// RegisterRoutes mounts the gateway API on an authenticated group.
func RegisterRoutes(router *gin.RouterGroup, h *Handler) {
	gateways := router.Group("/gateways")
	{
		gateways.GET("", h.ListGateways)
		gateways.POST("", h.CreateGateway)
		gateways.GET("/status", h.Status)
		gateways.GET("/commands", h.ListCommands)
		gateways.GET("/sessions", h.Sessions)
		gateways.GET("/sessions/:sessionKey/history", h.SessionHistory)
		gateways.POST("/sessions/:sessionKey/message", h.SendSessionMessage)
		gateways.POST("/message-lead", h.MessageLeads)
		gateways.POST("/broadcast", h.Broadcast)
		gateways.GET("/:gatewayId", h.GetGateway)
		gateways.PATCH("/:gatewayId", h.UpdateGateway)
		gateways.DELETE("/:gatewayId", h.DeleteGateway)
		gateways.POST("/:gatewayId/sync", h.TriggerSync)
	}
}

// ListGateways returns the organization's gateways.
// GET /api/v1/gateways
func (h *Handler) ListGateways(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	gateways, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateways": gateways})
}

// CreateGateway registers a gateway after a version probe.
// POST /api/v1/gateways
func (h *Handler) CreateGateway(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateGatewayInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	gateway, err := h.service.Create(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gateway)
}

// GetGateway returns one gateway.
// GET /api/v1/gateways/:gatewayId
func (h *Handler) GetGateway(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	gateway, err := h.service.Get(c.Request.Context(), actor, c.Param("gatewayId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gateway)
}

// UpdateGateway patches gateway settings, reprobing on endpoint
// changes.
// PATCH /api/v1/gateways/:gatewayId
func (h *Handler) UpdateGateway(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.UpdateGatewayInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	gateway, err := h.service.Update(c.Request.Context(), actor, c.Param("gatewayId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gateway)
}

// DeleteGateway removes a gateway with no attached boards.
// DELETE /api/v1/gateways/:gatewayId
func (h *Handler) DeleteGateway(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("gatewayId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Status reports per-gateway connectivity and session counts.
// GET /api/v1/gateways/status
func (h *Handler) Status(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	reports, err := h.service.Status(c.Request.Context(), actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateways": reports})
}

// ListCommands describes the gateway wire protocol.
// GET /api/v1/gateways/commands
func (h *Handler) ListCommands(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListCommands())
}

// Sessions lists the sessions of a gateway. With a single registered
// gateway the gateway_id query parameter may be omitted.
// GET /api/v1/gateways/sessions?gateway_id=
func (h *Handler) Sessions(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	gatewayID, err := h.resolveGatewayID(c, actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	sessions, err := h.service.Sessions(c.Request.Context(), actor, gatewayID)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// SessionHistory returns a session transcript.
// GET /api/v1/gateways/sessions/:sessionKey/history
func (h *Handler) SessionHistory(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	gatewayID, err := h.resolveGatewayID(c, actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	history, err := h.service.SessionHistory(c.Request.Context(), actor, gatewayID, c.Param("sessionKey"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// SendSessionMessage writes into a raw session.
// POST /api/v1/gateways/sessions/:sessionKey/message
func (h *Handler) SendSessionMessage(c *gin.Context) {
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
	gatewayID, err := h.resolveGatewayID(c, actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.SendSessionMessage(c.Request.Context(), actor, gatewayID, c.Param("sessionKey"), req.Message); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AskUser relays a lead's question to the gateway main session.
// POST /api/v1/agent/ask-user
func (h *Handler) AskUser(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.AskUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	result, err := h.coordinator.AskUser(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// MessageLeads sends a message to one board's lead.
// POST /api/v1/gateways/message-lead
func (h *Handler) MessageLeads(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.MessageLeadsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if in.BoardID == "" {
		httpmw.Error(c, h.logger, apperrors.ValidationError("board_id is required; use broadcast to reach every board"))
		return
	}
	result, err := h.coordinator.MessageLeads(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Broadcast sends a message to every board lead on the gateway.
// POST /api/v1/gateways/broadcast
func (h *Handler) Broadcast(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.MessageLeadsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	in.BoardID = ""
	result, err := h.coordinator.MessageLeads(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Nudge re-sends the assignment notification for a task.
// POST /api/v1/tasks/:taskId/nudge
func (h *Handler) Nudge(c *gin.Context) {
	if _, err := authservice.ActorFrom(c); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if req.AgentID == "" {
		httpmw.Error(c, h.logger, apperrors.ValidationError("agent_id is required"))
		return
	}
	if err := h.coordinator.NudgeAgent(c.Request.Context(), c.Param("taskId"), req.AgentID); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// TriggerSync runs template reconciliation against one gateway.
// POST /api/v1/gateways/:gatewayId/sync
func (h *Handler) TriggerSync(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if !actor.IsAdmin() {
		httpmw.Error(c, h.logger, apperrors.Forbidden("only admins trigger template sync"))
		return
	}
	var opts templatesync.Options
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
			return
		}
	}
	if actor.User != nil {
		opts.UserName = actor.User.DisplayName
	}

	gateway, err := h.service.Get(c.Request.Context(), actor, c.Param("gatewayId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.syncDeadline)
	defer cancel()
	result, err := h.sync.Sync(ctx, gateway, h.dialer.CallerFor(gateway), opts)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// resolveGatewayID picks the target gateway: the query parameter, or
// the only registered gateway.
func (h *Handler) resolveGatewayID(c *gin.Context, actor *authservice.Actor) (string, error) {
	if id := c.Query("gateway_id"); id != "" {
		return id, nil
	}
	gateways, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		return "", err
	}
	if len(gateways) != 1 {
		return "", apperrors.ValidationError("gateway_id is required when %d gateways are registered", len(gateways))
	}
	return gateways[0].ID, nil
}
