package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authrepo "github.com/pedrohperalta/openclaw-mission-control/internal/auth/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/board/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
)

const (
	orgID      = "org-1"
	adminToken = "tok-admin"
	agentToken = "tok-agent"
)

type apiFixture struct {
	router *gin.Engine
	boards *boardrepo.MemoryRepository
	agents *agentrepo.MemoryRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := logger.Default()

	users := authrepo.NewMemory()
	boards := boardrepo.NewMemory()
	agents := agentrepo.NewMemory()

	hash := token.Hash(adminToken)
	admin := &authmodels.User{Email: "admin@test", DisplayName: "Admin", APITokenHash: &hash}
	require.NoError(t, users.CreateUser(ctx, admin))
	require.NoError(t, users.CreateMember(ctx, &authmodels.Member{
		OrganizationID: orgID, UserID: admin.ID, Role: authmodels.RoleAdmin,
	}))

	authSvc := authservice.NewService(users, agents, orgID)
	boardSvc := service.NewService(boards, agents, bus.NewMemoryEventBus(log), log)

	router := gin.New()
	authed := router.Group("/api/v1", authSvc.RequireActor(log))
	RegisterRoutes(authed, boardSvc, orgID, log)

	return &apiFixture{router: router, boards: boards, agents: agents}
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestBoardLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/boards", adminToken,
		gin.H{"name": "Greenhouse", "objective": "Grow things"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	boardID := decode(t, w)["id"].(string)

	w = f.do(t, http.MethodGet, "/api/v1/boards", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	boards := decode(t, w)["boards"].([]interface{})
	assert.Len(t, boards, 1)

	w = f.do(t, http.MethodPatch, "/api/v1/boards/"+boardID, adminToken,
		gin.H{"objective": "Grow more things"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Grow more things", decode(t, w)["objective"])
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/boards", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBlockedTransitionConflictBody(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/boards", adminToken, gin.H{"name": "Greenhouse"})
	require.Equal(t, http.StatusCreated, w.Code)
	boardID := decode(t, w)["id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+boardID+"/tasks", adminToken,
		gin.H{"title": "Dig beds"})
	require.Equal(t, http.StatusCreated, w.Code)
	blockerID := decode(t, w)["id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+boardID+"/tasks", adminToken,
		gin.H{"title": "Plant seeds", "depends_on": []string{blockerID}})
	require.Equal(t, http.StatusCreated, w.Code)
	taskID := decode(t, w)["id"].(string)

	w = f.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID, adminToken,
		gin.H{"status": "in_progress"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "task_blocked_cannot_transition", body["code"])
	blockedBy := body["blocked_by_task_ids"].([]interface{})
	require.Len(t, blockedBy, 1)
	assert.Equal(t, blockerID, blockedBy[0])

	// Completing the blocker unblocks the transition.
	w = f.do(t, http.MethodPatch, "/api/v1/tasks/"+blockerID, adminToken,
		gin.H{"status": "done"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID, adminToken,
		gin.H{"status": "in_progress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in_progress", decode(t, w)["status"])
}

func TestTaskPatchDistinguishesAbsentAssignee(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/api/v1/boards", adminToken, gin.H{"name": "Greenhouse"})
	require.Equal(t, http.StatusCreated, w.Code)
	boardID := decode(t, w)["id"].(string)

	worker := &agentmodels.Agent{BoardID: &boardID, Name: "Scout", Status: agentmodels.StatusOnline}
	require.NoError(t, f.agents.Create(ctx, worker))

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+boardID+"/tasks", adminToken,
		gin.H{"title": "Water plants", "assigned_agent_id": worker.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	taskID := decode(t, w)["id"].(string)

	// A patch without the key leaves the assignee alone.
	w = f.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID, adminToken,
		gin.H{"title": "Water all plants"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, worker.ID, decode(t, w)["assigned_agent_id"])

	// An explicit null unassigns.
	w = f.do(t, http.MethodPatch, "/api/v1/tasks/"+taskID, adminToken,
		gin.H{"assigned_agent_id": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode(t, w)["assigned_agent_id"])
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/boards", adminToken, gin.H{"name": "Greenhouse"})
	require.Equal(t, http.StatusCreated, w.Code)
	boardID := decode(t, w)["id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+boardID+"/tasks", adminToken,
		gin.H{"title": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAgentTokenScopedToOwnBoard(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/api/v1/boards", adminToken, gin.H{"name": "Greenhouse"})
	require.Equal(t, http.StatusCreated, w.Code)
	boardID := decode(t, w)["id"].(string)
	w = f.do(t, http.MethodPost, "/api/v1/boards", adminToken, gin.H{"name": "Workshop"})
	require.Equal(t, http.StatusCreated, w.Code)
	otherID := decode(t, w)["id"].(string)

	hash := token.Hash(agentToken)
	lead := &agentmodels.Agent{
		BoardID: &boardID, Name: "Alpha", IsBoardLead: true,
		Status: agentmodels.StatusOnline, AgentTokenHash: &hash,
	}
	require.NoError(t, f.agents.Create(ctx, lead))

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+boardID+"/tasks", agentToken,
		gin.H{"title": "Prune roses"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/boards/"+otherID+"/tasks", agentToken,
		gin.H{"title": "Sweep floor"})
	assert.True(t, w.Code == http.StatusForbidden || w.Code == http.StatusNotFound,
		"expected 403 or 404, got %d", w.Code)
}
