// Package handlers exposes the activity log and the task-comment SSE
// stream.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pedrohperalta/openclaw-mission-control/internal/activity/service"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// Handler serves the activity API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates the activity API handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// RegisterRoutes mounts the activity API on an authenticated group.
func RegisterRoutes(router *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	h := NewHandler(svc, log)

	activity := router.Group("/activity")
	{
		activity.GET("", h.ListActivity)
		activity.GET("/task-comments", h.TaskComments)
		activity.GET("/task-comments/stream", h.StreamTaskComments)
	}
}

// ListActivity returns activity events visible to the actor.
// GET /api/v1/activity?agent_id=&limit=&offset=
func (h *Handler) ListActivity(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	events, err := h.service.List(c.Request.Context(), actor, c.Query("agent_id"), limit, offset)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// TaskComments returns the enriched comment feed.
// GET /api/v1/activity/task-comments?limit=&offset=
func (h *Handler) TaskComments(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	comments, err := h.service.CommentFeed(c.Request.Context(), actor, limit, offset)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// StreamTaskComments pushes new comments as SSE "comment" events. The
// cursor starts at connect time; a dedup window keeps each comment
// from being emitted twice.
// GET /api/v1/activity/task-comments/stream
func (h *Handler) StreamTaskComments(c *gin.Context) {
	actor, err := authservice.ActorFrom(c)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}
	cursor, err := h.service.NewFeedCursor(c.Request.Context(), actor)
	if err != nil {
		httpmw.Error(c, h.logger, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	poll := time.NewTicker(service.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(service.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		case <-poll.C:
			items, err := cursor.Poll(c.Request.Context())
			if err != nil {
				h.logger.WithError(err).Warn("comment stream poll failed")
				continue
			}
			for _, item := range items {
				c.SSEvent("comment", gin.H{"comment": item})
			}
			if len(items) > 0 {
				c.Writer.Flush()
			}
		}
	}
}
