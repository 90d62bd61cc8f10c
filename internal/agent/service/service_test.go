package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// fakeGateway implements rpc.Caller over in-memory session, file, and
// config state.
type fakeGateway struct {
	config   map[string]interface{}
	hash     string
	files    map[string]map[string]string
	sessions map[string]bool
	sent     []string
	calls    []string
	failSet  bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		config:   map[string]interface{}{},
		hash:     "h1",
		files:    map[string]map[string]string{},
		sessions: map[string]bool{},
	}
}

func (f *fakeGateway) Call(_ context.Context, method string, params, result interface{}) error {
	f.calls = append(f.calls, method)
	raw, _ := json.Marshal(params)
	var p map[string]interface{}
	_ = json.Unmarshal(raw, &p)

	respond := func(v interface{}) error {
		if result == nil {
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, result)
	}

	switch method {
	case rpc.MethodSessionsSpawn:
		key := p["key"].(string)
		if f.sessions[key] {
			return &rpc.MethodError{Method: method, Message: "session already exists"}
		}
		f.sessions[key] = true
		return respond(map[string]interface{}{"key": key})
	case rpc.MethodSessionsGet:
		return respond(map[string]interface{}{"key": p["key"]})
	case rpc.MethodSessionsSend:
		f.sent = append(f.sent, p["sessionKey"].(string))
		return nil
	case rpc.MethodSessionsDelete, rpc.MethodSessionsReset:
		return nil
	case rpc.MethodAgentsFileLst:
		agentID := p["agentId"].(string)
		var list []map[string]string
		for name := range f.files[agentID] {
			list = append(list, map[string]string{"name": name})
		}
		return respond(map[string]interface{}{"files": list})
	case rpc.MethodAgentsFileGet:
		agentID := p["agentId"].(string)
		content, ok := f.files[agentID][p["name"].(string)]
		if !ok {
			return &rpc.MethodError{Method: method, Message: "file not found"}
		}
		return respond(map[string]interface{}{"content": content})
	case rpc.MethodAgentsFileSet:
		if f.failSet {
			return &rpc.MethodError{Method: method, Message: "unauthorized"}
		}
		agentID := p["agentId"].(string)
		if f.files[agentID] == nil {
			f.files[agentID] = map[string]string{}
		}
		f.files[agentID][p["name"].(string)] = p["content"].(string)
		return nil
	case rpc.MethodConfigGet:
		return respond(map[string]interface{}{"hash": f.hash, "config": f.config})
	case rpc.MethodConfigPatch:
		if p["baseHash"] != f.hash {
			return &rpc.MethodError{Method: method, Code: "conflict", Message: "hash mismatch"}
		}
		doc, _ := json.Marshal(p["raw"])
		var updated map[string]interface{}
		if err := json.Unmarshal(doc, &updated); err != nil {
			return err
		}
		f.config = updated
		f.hash += "x"
		return nil
	}
	return &rpc.MethodError{Method: method, Message: "unknown method"}
}

type staticDialer struct{ caller rpc.Caller }

func (d staticDialer) CallerFor(_ *gatewaymodels.Gateway) rpc.Caller { return d.caller }

type agentFixture struct {
	svc      *Service
	agents   *agentrepo.MemoryRepository
	boards   *boardrepo.MemoryRepository
	gateways *gatewayrepo.MemoryRepository
	activity *activityrepo.MemoryRepository
	gw       *fakeGateway
	board    *boardmodels.Board
	gateway  *gatewaymodels.Gateway
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Default()

	agents := agentrepo.NewMemory()
	boards := boardrepo.NewMemory()
	gateways := gatewayrepo.NewMemory()
	activity := activityrepo.NewMemory()
	gw := newFakeGateway()

	gateway := &gatewaymodels.Gateway{
		Name:           "garden",
		URL:            "ws://garden:4180",
		MainSessionKey: "main",
		WorkspaceRoot:  "/ws",
	}
	require.NoError(t, gateways.Create(ctx, gateway))

	board := &boardmodels.Board{Name: "Greenhouse", GatewayID: &gateway.ID}
	require.NoError(t, boards.CreateBoard(ctx, board))

	agents.BoardGateway = func(boardID string) (string, bool) {
		b, err := boards.GetBoard(context.Background(), boardID)
		if err != nil || b.GatewayID == nil {
			return "", false
		}
		return *b.GatewayID, true
	}

	svc := NewService(agents, boards, gateways, activity,
		provisioner.New(log), staticDialer{caller: gw}, nil,
		"http://control:8080", log)
	return &agentFixture{
		svc:      svc,
		agents:   agents,
		boards:   boards,
		gateways: gateways,
		activity: activity,
		gw:       gw,
		board:    board,
		gateway:  gateway,
	}
}

func adminActor() *authservice.Actor {
	return &authservice.Actor{
		Type:   authservice.ActorUser,
		User:   &authmodels.User{ID: "u1"},
		Member: &authmodels.Member{UserID: "u1", Role: authmodels.RoleAdmin},
	}
}

func agentActor(agent *models.Agent) *authservice.Actor {
	return &authservice.Actor{Type: authservice.ActorAgent, Agent: agent}
}

func (f *agentFixture) eventTypes(t *testing.T) []string {
	t.Helper()
	rows, err := f.activity.List(context.Background(), activityrepo.ListFilter{})
	require.NoError(t, err)
	var types []string
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestCreateProvisionsAndWakes(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{
		BoardID:  f.board.ID,
		Name:     "Scout",
		UserName: "Pat",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisioning, agent.Status)
	require.NotNil(t, agent.OpenClawSessionID)
	assert.Equal(t, "agent:scout:main", *agent.OpenClawSessionID)

	// Workspace files landed on the gateway under the derived id.
	assert.Contains(t, f.gw.files["scout"], "TOOLS.md")
	assert.Contains(t, f.gw.files["scout"]["TOOLS.md"], "AUTH_TOKEN=")

	// The wakeup message went into the fresh session.
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, "agent:scout:main", f.gw.sent[0])

	types := f.eventTypes(t)
	assert.Contains(t, types, events.AgentCreated)
	assert.Contains(t, types, events.AgentSessionCreated)
	assert.Contains(t, types, events.AgentWakeupSent)
}

func TestCreateRejectsBoardNameCollision(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	_, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "scout"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 409, appErr.HTTPStatus)
	assert.Equal(t, apperrors.CodeNameCollision, appErr.Code)
}

func TestCreateRejectsGatewayWideCollisions(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	other := &boardmodels.Board{Name: "Orchard", GatewayID: &f.gateway.ID}
	require.NoError(t, f.boards.CreateBoard(ctx, other))
	_, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: other.ID, Name: "Scout"})
	require.NoError(t, err)

	// Same name on a sibling board of the gateway collides on the
	// workspace path.
	_, err = f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNameCollision, appErr.Code)
	assert.Contains(t, appErr.Message, "workspaces would collide")
}

func TestCreateRejectsMainSessionKeyCollision(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	f.gateway.MainSessionKey = "agent:main:main"
	require.NoError(t, f.gateways.Update(ctx, f.gateway))

	_, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Main"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeSessionCollision, appErr.Code)
}

func TestCreateRejectsSecondLead(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	_, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Alpha", IsBoardLead: true})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Beta", IsBoardLead: true})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 409, appErr.HTTPStatus)
}

func TestCreateSurvivesProvisionFailure(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	f.gw.failSet = true
	agent, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)
	require.NotNil(t, agent)

	// The record exists even though provisioning failed.
	_, err = f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Contains(t, f.eventTypes(t), events.AgentProvisionFailed)
	assert.NotContains(t, f.eventTypes(t), events.AgentWakeupSent)
}

func TestCreateRequiresProvisionableGateway(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	f.gateway.WorkspaceRoot = ""
	require.NoError(t, f.gateways.Update(ctx, f.gateway))

	_, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 422, appErr.HTTPStatus)
}

func TestHeartbeatMarksOnline(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisioning, agent.ComputedStatus(time.Now().UTC()))

	updated, err := f.svc.Heartbeat(ctx, agentActor(agent))
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, updated.Status)
	require.NotNil(t, updated.LastSeenAt)

	rows, err := f.activity.List(ctx, activityrepo.ListFilter{})
	require.NoError(t, err)
	var found bool
	for _, row := range rows {
		if row.EventType == events.AgentHeartbeat {
			found = true
			assert.Equal(t, "Heartbeat received from Scout.", row.Message)
		}
	}
	assert.True(t, found)
}

func TestHeartbeatStaleReadsOffline(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-models.OfflineAfter - time.Minute)
	agent.LastSeenAt = &stale
	agent.Status = models.StatusOnline
	require.NoError(t, f.agents.Update(ctx, agent))

	got, err := f.svc.Get(ctx, adminActor(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, got.Status)
}

func TestDeleteUnassignsTasksAndCleansGateway(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	agent, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)

	task := &boardmodels.Task{
		BoardID:         f.board.ID,
		Title:           "Water the beds",
		Status:          boardmodels.TaskInProgress,
		AssignedAgentID: &agent.ID,
	}
	require.NoError(t, f.boards.CreateTask(ctx, task, nil, nil))

	require.NoError(t, f.svc.Delete(ctx, admin, agent.ID))

	_, err = f.agents.Get(ctx, agent.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	got, err := f.boards.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, boardmodels.TaskInbox, got.Status)
	assert.Nil(t, got.AssignedAgentID)

	types := f.eventTypes(t)
	assert.Contains(t, types, events.TaskUnassigned)
	assert.Contains(t, types, events.AgentDeleted)

	// Cleanup runs in the background; wait for the registry entry and
	// session to go away.
	require.Eventually(t, func() bool {
		for _, call := range f.gw.calls {
			if call == rpc.MethodSessionsDelete {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNonLeadAgentCannotManageAgents(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	worker, err := f.svc.Create(ctx, adminActor(), CreateAgentInput{BoardID: f.board.ID, Name: "Worker"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, agentActor(worker), CreateAgentInput{BoardID: f.board.ID, Name: "Minion"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 403, appErr.HTTPStatus)
}

func TestUpdateReprovisionsWorkspace(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	agent, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Scout"})
	require.NoError(t, err)
	firstTools := f.gw.files["scout"]["TOOLS.md"]

	soul := "Tend the greenhouse with care."
	updated, err := f.svc.Update(ctx, admin, agent.ID, UpdateAgentInput{SoulTemplate: &soul})
	require.NoError(t, err)
	require.NotNil(t, updated.SoulTemplate)

	assert.Contains(t, f.gw.files["scout"]["SOUL.md"], "Tend the greenhouse")
	// The token is rotated on every update, so TOOLS.md changes too.
	assert.NotEqual(t, firstTools, f.gw.files["scout"]["TOOLS.md"])
	assert.True(t, strings.Contains(f.gw.files["scout"]["TOOLS.md"], "AUTH_TOKEN="))
}

func TestUpdateBoardHeartbeatsSinglePatch(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	admin := adminActor()

	_, err := f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Alpha"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, admin, CreateAgentInput{BoardID: f.board.ID, Name: "Beta"})
	require.NoError(t, err)

	before := 0
	for _, call := range f.gw.calls {
		if call == rpc.MethodConfigPatch {
			before++
		}
	}

	require.NoError(t, f.svc.UpdateBoardHeartbeats(ctx, admin, f.board.ID, "5m"))

	after := 0
	for _, call := range f.gw.calls {
		if call == rpc.MethodConfigPatch {
			after++
		}
	}
	assert.Equal(t, before+1, after)

	agents, err := f.svc.ListByBoard(ctx, admin, f.board.ID)
	require.NoError(t, err)
	for _, agent := range agents {
		assert.Equal(t, "5m", agent.Heartbeat().Every)
	}
}
