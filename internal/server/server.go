// Package server assembles the HTTP API from the domain handler
// packages.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	activityhandlers "github.com/pedrohperalta/openclaw-mission-control/internal/activity/handlers"
	activityservice "github.com/pedrohperalta/openclaw-mission-control/internal/activity/service"
	agenthandlers "github.com/pedrohperalta/openclaw-mission-control/internal/agent/handlers"
	agentservice "github.com/pedrohperalta/openclaw-mission-control/internal/agent/service"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardhandlers "github.com/pedrohperalta/openclaw-mission-control/internal/board/handlers"
	boardservice "github.com/pedrohperalta/openclaw-mission-control/internal/board/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/config"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	gatewayhandlers "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/handlers"
	gatewayservice "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/templatesync"
	webhookhandlers "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/handlers"
	webhookservice "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/service"
)

// Deps are the wired services the router serves.
type Deps struct {
	Config      *config.Config
	Auth        *authservice.Service
	Boards      *boardservice.Service
	Agents      *agentservice.Service
	Gateways    *gatewayservice.Service
	Coordinator *gatewayservice.Coordinator
	Activity    *activityservice.Service
	Webhooks    *webhookservice.Service
	Sync        *templatesync.Engine
	Dialer      gatewayservice.Dialer
	Log         *logger.Logger
}

// NewRouter builds the gin engine with all routes mounted under
// /api/v1. The webhook ingest endpoint is the only unauthenticated
// path besides /health.
func NewRouter(d Deps) *gin.Engine {
	if d.Config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(d.Log, "mission-control"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	orgID := d.Auth.OrganizationID()
	gatewayHandler := gatewayhandlers.NewHandler(
		d.Gateways, d.Coordinator, d.Sync, d.Dialer, d.Config.Gateway.SyncDeadline, d.Log)
	agentHandler := agenthandlers.NewHandler(d.Agents, d.Log)

	v1 := router.Group("/api/v1")

	// Main surface: users and agents alike, service-level checks
	// decide what each actor may touch.
	authed := v1.Group("", d.Auth.RequireActor(d.Log))
	boardhandlers.RegisterRoutes(authed, d.Boards, orgID, d.Log)
	agenthandlers.RegisterRoutes(authed, d.Agents, d.Log)
	activityhandlers.RegisterRoutes(authed, d.Activity, d.Log)
	gatewayhandlers.RegisterRoutes(authed, gatewayHandler)
	webhookhandlers.RegisterRoutes(authed, v1, d.Webhooks, d.Log)
	authed.POST("/tasks/:taskId/nudge", gatewayHandler.Nudge)

	// Agent-scoped mirror with agent-token auth only. Gateway leads
	// and workers operate here.
	agentAPI := v1.Group("/agent", d.Auth.RequireAgent(d.Log))
	boardhandlers.RegisterRoutes(agentAPI, d.Boards, orgID, d.Log)
	agentAPI.POST("/heartbeat", agentHandler.Heartbeat)
	agentAPI.GET("/soul", agentHandler.GetSoul)
	agentAPI.PUT("/soul", agentHandler.PutSoul)
	agentAPI.POST("/ask-user", gatewayHandler.AskUser)
	agentAPI.POST("/message-lead", gatewayHandler.MessageLeads)
	agentAPI.POST("/broadcast", gatewayHandler.Broadcast)
	agentAPI.POST("/tasks/:taskId/nudge", gatewayHandler.Nudge)

	return router
}

// New wraps the router in an http.Server bound to the configured
// address.
func New(cfg config.ServerConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
