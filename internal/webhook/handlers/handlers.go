// Package handlers exposes webhook management and the open ingest
// endpoint.
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/service"
)

// Handler serves the webhook API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates the webhook API handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// RegisterRoutes mounts the management API on the authenticated group
// and the ingest endpoint on the public one. Ingest URLs are
// unguessable (board and webhook UUIDs) and carry no credentials.
func RegisterRoutes(authed, public *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	h := NewHandler(svc, log)

	authed.GET("/boards/:boardId/webhooks", h.ListWebhooks)
	authed.POST("/boards/:boardId/webhooks", h.CreateWebhook)
	authed.PATCH("/webhooks/:webhookId", h.UpdateWebhook)
	authed.DELETE("/webhooks/:webhookId", h.DeleteWebhook)
	authed.GET("/boards/:boardId/webhooks/:webhookId/payloads", h.ListPayloads)
	authed.GET("/webhooks/payloads/:payloadId", h.GetPayload)

	public.POST("/boards/:boardId/webhooks/:webhookId", h.Ingest)
}

// ListWebhooks returns a board's webhooks.
// GET /api/v1/boards/:boardId/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	webhooks, err := h.service.List(c.Request.Context(), actor, c.Param("boardId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}

// CreateWebhook registers a webhook on a board.
// POST /api/v1/boards/:boardId/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.CreateWebhookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	webhook, err := h.service.Create(c.Request.Context(), actor, c.Param("boardId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, webhook)
}

// UpdateWebhook patches a webhook.
// PATCH /api/v1/webhooks/:webhookId
func (h *Handler) UpdateWebhook(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	var in service.UpdateWebhookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("invalid request body: %v", err))
		return
	}
	webhook, err := h.service.Update(c.Request.Context(), actor, c.Param("webhookId"), in)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// DeleteWebhook removes a webhook and its payloads.
// DELETE /api/v1/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("webhookId")); err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPayloads returns a webhook's received payloads.
// GET /api/v1/boards/:boardId/webhooks/:webhookId/payloads
func (h *Handler) ListPayloads(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	payloads, err := h.service.ListPayloads(c.Request.Context(), actor, c.Param("webhookId"), limit, offset)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payloads": payloads})
}

// GetPayload returns one payload.
// GET /api/v1/webhooks/payloads/:payloadId
func (h *Handler) GetPayload(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	payload, err := h.service.GetPayload(c.Request.Context(), actor, c.Param("payloadId"))
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// Ingest accepts an external payload and queues the lead notification.
// POST /api/v1/boards/:boardId/webhooks/:webhookId
func (h *Handler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		httpmw.Error(c, h.logger, apperrors.BadRequest("cannot read request body: %v", err))
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	result, err := h.service.Ingest(c.Request.Context(),
		c.Param("boardId"), c.Param("webhookId"),
		body, c.ContentType(), headers, c.ClientIP())
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"payload_id": result.PayloadID})
}
