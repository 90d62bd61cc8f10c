package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/config"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/queue"
	webhookrepo "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/service"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

type nopDialer struct{}

func (nopDialer) CallerFor(_ *gatewaymodels.Gateway) rpc.Caller { return nil }

func newIngestRouter(t *testing.T) (*gin.Engine, *models.BoardWebhook, *boardmodels.Board, *queue.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := logger.Default()

	webhooks := webhookrepo.NewMemory()
	boards := boardrepo.NewMemory()
	q := queue.New(8)

	board := &boardmodels.Board{Name: "Greenhouse"}
	require.NoError(t, boards.CreateBoard(ctx, board))

	cfg := config.WebhookConfig{QueueCapacity: 8, MaxAttempts: 3, ReconcileAfter: time.Hour}
	svc := service.NewService(webhooks, boards, agentrepo.NewMemory(), gatewayrepo.NewMemory(),
		activityrepo.NewMemory(), q, nopDialer{}, cfg, "http://control:8080", log)

	webhook := &models.BoardWebhook{BoardID: board.ID, Name: "deploys", Enabled: true}
	require.NoError(t, webhooks.Create(ctx, webhook))

	router := gin.New()
	public := router.Group("/api/v1")
	RegisterRoutes(router.Group("/api/v1/authed"), public, svc, log)
	return router, webhook, board, q
}

func TestIngestEndpointAccepts(t *testing.T) {
	router, webhook, board, q := newIngestRouter(t)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/boards/"+board.ID+"/webhooks/"+webhook.ID,
		bytes.NewBufferString(`{"x":1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["payload_id"])
	assert.Equal(t, 1, q.Len())
}

func TestIngestEndpointUnknownWebhook(t *testing.T) {
	router, _, board, _ := newIngestRouter(t)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/boards/"+board.ID+"/webhooks/missing",
		bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
