package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
)

type coordinatorFixture struct {
	coord    *Coordinator
	bus      bus.EventBus
	caller   *fakeCaller
	boards   *boardrepo.MemoryRepository
	agents   *agentrepo.MemoryRepository
	activity *activityrepo.MemoryRepository
	gateway  *models.Gateway
	board    *boardmodels.Board
	lead     *agentmodels.Agent
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Default()

	gateways := gatewayrepo.NewMemory()
	boards := boardrepo.NewMemory()
	agents := agentrepo.NewMemory()
	activity := activityrepo.NewMemory()
	caller := &fakeCaller{}
	eventBus := bus.NewMemoryEventBus(log)

	gateway := &models.Gateway{
		OrganizationID: "org-1",
		Name:           "garden",
		URL:            "ws://garden:4180",
		MainSessionKey: "agent:garden-main:main",
		WorkspaceRoot:  "/ws",
	}
	require.NoError(t, gateways.Create(ctx, gateway))

	board := &boardmodels.Board{Name: "Greenhouse", GatewayID: &gateway.ID}
	require.NoError(t, boards.CreateBoard(ctx, board))

	leadKey := "agent:alpha:main"
	lead := &agentmodels.Agent{
		BoardID:           &board.ID,
		Name:              "Alpha",
		IsBoardLead:       true,
		OpenClawSessionID: &leadKey,
	}
	require.NoError(t, agents.Create(ctx, lead))

	coord := NewCoordinator(gateways, boards, agents, activity,
		fakeDialer{caller: caller}, eventBus, "http://control:8080", "org-1", log)
	return &coordinatorFixture{
		coord:    coord,
		bus:      eventBus,
		caller:   caller,
		boards:   boards,
		agents:   agents,
		activity: activity,
		gateway:  gateway,
		board:    board,
		lead:     lead,
	}
}

func leadActor(agent *agentmodels.Agent) *authservice.Actor {
	return &authservice.Actor{Type: authservice.ActorAgent, Agent: agent}
}

func TestAssignmentEventTriggersNudge(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	workerKey := "agent:bee:main"
	worker := &agentmodels.Agent{BoardID: &f.board.ID, Name: "Bee", OpenClawSessionID: &workerKey}
	require.NoError(t, f.agents.Create(ctx, worker))

	task := &boardmodels.Task{BoardID: f.board.ID, Title: "Repot the ferns", AssignedAgentID: &worker.ID}
	require.NoError(t, f.boards.CreateTask(ctx, task, nil, nil))

	sub, err := f.coord.Start()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, f.bus.Publish(ctx, events.SubjectTaskAssigned,
		bus.NewEvent(events.SubjectTaskAssigned, "test", map[string]interface{}{
			"task_id":           task.ID,
			"assigned_agent_id": worker.ID,
		})))

	require.Eventually(t, func() bool { return len(f.caller.sent) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, workerKey, f.caller.sent[0].Key)
	assert.Contains(t, f.caller.sent[0].Text, "Repot the ferns")
	assert.Contains(t, f.caller.sent[0].Text, task.ID)

	rows, err := f.activity.List(ctx, activityrepo.ListFilter{})
	require.NoError(t, err)
	var found bool
	for _, row := range rows {
		if row.EventType == events.TaskNudgeSent {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAskUserRoutesToMainWithCorrelation(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	result, err := f.coord.AskUser(ctx, leadActor(f.lead), AskUserInput{
		Question:    "Which fertilizer should we order?",
		ChannelHint: "email",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.CorrelationID)

	require.Len(t, f.caller.sent, 1)
	msg := f.caller.sent[0]
	assert.Equal(t, f.gateway.MainSessionKey, msg.Key)
	assert.Contains(t, msg.Text, result.CorrelationID)
	assert.Contains(t, msg.Text, "Which fertilizer should we order?")
	assert.Contains(t, msg.Text, "/api/v1/agent/boards/"+f.board.ID+"/memory")
	assert.Contains(t, msg.Text, TagGatewayMain)
	assert.Contains(t, msg.Text, TagUserReply)
	assert.Contains(t, msg.Text, "email")
}

func TestAskUserRequiresLead(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	workerKey := "agent:bee:main"
	worker := &agentmodels.Agent{BoardID: &f.board.ID, Name: "Bee", OpenClawSessionID: &workerKey}
	require.NoError(t, f.agents.Create(ctx, worker))

	_, err := f.coord.AskUser(ctx, leadActor(worker), AskUserInput{Question: "May I?"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "lead"))
}

func TestBroadcastReportsPerBoardOutcome(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	// A second board with no lead fails its delivery.
	leaderless := &boardmodels.Board{Name: "Orchard", GatewayID: &f.gateway.ID}
	require.NoError(t, f.boards.CreateBoard(ctx, leaderless))

	mainKey := f.gateway.MainSessionKey
	main := &agentmodels.Agent{Name: "Garden Main", OpenClawSessionID: &mainKey}
	require.NoError(t, f.agents.Create(ctx, main))

	result, err := f.coord.MessageLeads(ctx, leadActor(main), MessageLeadsInput{
		Message: "Stand-up in five minutes.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 2)

	byBoard := map[string]LeadDelivery{}
	for _, delivery := range result.Results {
		byBoard[delivery.BoardID] = delivery
	}
	assert.True(t, byBoard[f.board.ID].Sent)
	assert.False(t, byBoard[leaderless.ID].Sent)
	assert.Equal(t, "board has no lead", byBoard[leaderless.ID].Error)

	require.Len(t, f.caller.sent, 1)
	assert.Equal(t, "agent:alpha:main", f.caller.sent[0].Key)
	assert.Contains(t, f.caller.sent[0].Text, "Stand-up in five minutes.")
}

func TestMessageLeadsSingleBoardFilter(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	mainKey := f.gateway.MainSessionKey
	main := &agentmodels.Agent{Name: "Garden Main", OpenClawSessionID: &mainKey}
	require.NoError(t, f.agents.Create(ctx, main))

	result, err := f.coord.MessageLeads(ctx, leadActor(main), MessageLeadsInput{
		BoardID: f.board.ID,
		Message: "Greenhouse only.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)

	_, err = f.coord.MessageLeads(ctx, leadActor(main), MessageLeadsInput{
		BoardID: "nope",
		Message: "Greenhouse only.",
	})
	require.Error(t, err)
}

func TestBoardAgentCannotMessageLeads(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	_, err := f.coord.MessageLeads(ctx, leadActor(f.lead), MessageLeadsInput{Message: "hi"})
	require.Error(t, err)
}
