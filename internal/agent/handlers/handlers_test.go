package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/service"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authrepo "github.com/pedrohperalta/openclaw-mission-control/internal/auth/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

type nopDialer struct{}

func (nopDialer) CallerFor(_ *gatewaymodels.Gateway) rpc.Caller { return nil }

type streamFixture struct {
	svc    *service.Service
	agents *agentrepo.MemoryRepository
	boards *boardrepo.MemoryRepository
	garden *boardmodels.Board
	vault  *boardmodels.Board
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Default()

	agents := agentrepo.NewMemory()
	boards := boardrepo.NewMemory()

	garden := &boardmodels.Board{OrganizationID: "org-1", Name: "Garden"}
	require.NoError(t, boards.CreateBoard(ctx, garden))
	vault := &boardmodels.Board{OrganizationID: "org-1", Name: "Vault"}
	require.NoError(t, boards.CreateBoard(ctx, vault))

	svc := service.NewService(agents, boards, gatewayrepo.NewMemory(),
		activityrepo.NewMemory(), provisioner.New(log), nopDialer{}, nil,
		"http://control:8080", log)
	return &streamFixture{svc: svc, agents: agents, boards: boards, garden: garden, vault: vault}
}

// readerActor is a non-admin member whose ACL grants read on exactly
// the given boards.
func readerActor(boardIDs ...string) *authservice.Actor {
	acl := db.JSONMap{}
	for _, id := range boardIDs {
		acl[id] = "read"
	}
	return &authservice.Actor{
		Type:   authservice.ActorUser,
		User:   &authmodels.User{ID: "u1", DisplayName: "Pat"},
		Member: &authmodels.Member{UserID: "u1", Role: authmodels.RoleMember, BoardACL: acl},
	}
}

func TestStreamPollScopesToViewerBoards(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()

	cursor := f.svc.NewChangeCursor(readerActor(f.garden.ID))

	visible := &agentmodels.Agent{BoardID: &f.garden.ID, Name: "Scout"}
	require.NoError(t, f.agents.Create(ctx, visible))
	hidden := &agentmodels.Agent{BoardID: &f.vault.ID, Name: "Mole"}
	require.NoError(t, f.agents.Create(ctx, hidden))

	got, err := cursor.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, visible.ID, got[0].ID)
}

func TestStreamPollEmitsEachChangeOnce(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()

	cursor := f.svc.NewChangeCursor(readerActor(f.garden.ID))

	agent := &agentmodels.Agent{BoardID: &f.garden.ID, Name: "Scout"}
	require.NoError(t, f.agents.Create(ctx, agent))

	got, err := cursor.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The row sits exactly on the cursor boundary; polling again must
	// not replay it.
	got, err = cursor.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A later change comes through again, once.
	time.Sleep(2 * time.Millisecond)
	stored, err := f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	stored.Name = "Scout II"
	require.NoError(t, f.agents.Update(ctx, stored))

	got, err = cursor.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Scout II", got[0].Name)

	got, err = cursor.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamPollWithNoAccessibleBoardsStaysQuiet(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()

	cursor := f.svc.NewChangeCursor(readerActor())

	agent := &agentmodels.Agent{BoardID: &f.garden.ID, Name: "Scout"}
	require.NoError(t, f.agents.Create(ctx, agent))

	got, err := cursor.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamEndpointRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newStreamFixture(t)
	log := logger.Default()

	authSvc := authservice.NewService(authrepo.NewMemory(), f.agents, "org-1")
	router := gin.New()
	authed := router.Group("/api/v1", authSvc.RequireActor(log))
	RegisterRoutes(authed, f.svc, log)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
