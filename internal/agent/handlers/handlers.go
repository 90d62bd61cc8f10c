// Package handlers exposes the agent lifecycle endpoints, including
// the SSE change stream.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/service"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

const (
	streamPollInterval = 2 * time.Second
	streamPingInterval = 15 * time.Second
)

// Handler serves the agent API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates the agent API handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// RegisterRoutes mounts the agent API on an authenticated group.
func RegisterRoutes(router *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	h := NewHandler(svc, log)

	agents := router.Group("/agents")
	{
		agents.GET("", h.ListAgents)
		agents.POST("", h.CreateAgent)
		agents.GET("/stream", h.StreamAgents)
		agents.POST("/heartbeat", h.Heartbeat)
		agents.GET("/:agentId", h.GetAgent)
		agents.PATCH("/:agentId", h.UpdateAgent)
		agents.DELETE("/:agentId", h.DeleteAgent)
	}
}

// ListAgents returns the agents on a board.
// GET /api/v1/agents?board_id=
func (h *Handler) ListAgents(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	boardID := c.Query("board_id")
	if boardID == "" {
		httpmw.Error(c, h.logger, apperrors.ValidationError("board_id is required"))
		return
	}
	agents, err := h.service.ListByBoard(c.Request.Context(), actor, boardID)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// CreateAgent provisions a new agent.
// POST /api/v1/agents
func (h *Handler) CreateAgent(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateAgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if actor.Type == authservice.ActorUser && actor.User != nil {
		in.UserName = actor.User.DisplayName
	}
	agent, err := h.service.Create(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// GetAgent returns one agent with its computed status.
// GET /api/v1/agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	agent, err := h.service.Get(c.Request.Context(), actor, c.Param("agentId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// UpdateAgent reprovisions an agent with changed settings.
// PATCH /api/v1/agents/:agentId
func (h *Handler) UpdateAgent(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.UpdateAgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if actor.Type == authservice.ActorUser && actor.User != nil {
		in.UserName = actor.User.DisplayName
	}
	agent, err := h.service.Update(c.Request.Context(), actor, c.Param("agentId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// DeleteAgent removes an agent, returning its tasks to the inbox.
// DELETE /api/v1/agents/:agentId
func (h *Handler) DeleteAgent(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("agentId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Heartbeat marks the calling agent online. Admin users may register
// an agent on first heartbeat by naming its board.
// POST /api/v1/agents/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.HeartbeatInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
			return
		}
	}
	agent, err := h.service.RegisterHeartbeat(c.Request.Context(), actor, in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetSoul returns the calling agent's SOUL.md.
// GET /api/v1/agent/soul
func (h *Handler) GetSoul(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	content, err := h.service.GetSoul(c.Request.Context(), actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// PutSoul replaces the calling agent's SOUL.md.
// PUT /api/v1/agent/soul
func (h *Handler) PutSoul(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	if err := h.service.PutSoul(c.Request.Context(), actor, req.Content); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamAgents pushes agent rows changed since the last poll as SSE
// "agent" events, scoped to boards the caller may observe. A ping event
// keeps idle connections alive.
// GET /api/v1/agents/stream
func (h *Handler) StreamAgents(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	cursor := h.service.NewChangeCursor(actor)
	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		case <-poll.C:
			agents, err := cursor.Poll(c.Request.Context())
			if err != nil {
				h.logger.WithError(err).Warn("agent stream poll failed")
				continue
			}
			for _, agent := range agents {
				c.SSEvent("agent", gin.H{"agent": agent})
			}
			if len(agents) > 0 {
				c.Writer.Flush()
			}
		}
	}
}
