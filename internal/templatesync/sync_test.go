package templatesync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// fakeGateway is a minimal in-memory gateway for sync runs.
type fakeGateway struct {
	config map[string]interface{}
	hash   string
	files  map[string]map[string]string
	down   bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		config: map[string]interface{}{},
		hash:   "h1",
		files:  map[string]map[string]string{},
	}
}

func (f *fakeGateway) Call(_ context.Context, method string, params, result interface{}) error {
	if f.down {
		return &rpc.MethodError{Method: method, Message: "unauthorized"}
	}
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
	case rpc.MethodAgentsList:
		return respond(map[string]interface{}{"agents": []interface{}{}})
	case rpc.MethodSessionsSpawn, rpc.MethodSessionsGet:
		return respond(map[string]interface{}{"key": p["key"]})
	case rpc.MethodSessionsReset, rpc.MethodSessionsDelete:
		return nil
	case rpc.MethodAgentsFileLst:
		agentID := p["agentId"].(string)
		var files []map[string]string
		for name := range f.files[agentID] {
			files = append(files, map[string]string{"name": name})
		}
		return respond(map[string]interface{}{"files": files})
	case rpc.MethodAgentsFileGet:
		content, ok := f.files[p["agentId"].(string)][p["name"].(string)]
		if !ok {
			return &rpc.MethodError{Method: method, Message: "file not found"}
		}
		return respond(map[string]interface{}{"content": content})
	case rpc.MethodAgentsFileSet:
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

type fixture struct {
	engine  *Engine
	boards  *boardrepo.MemoryRepository
	agents  *agentrepo.MemoryRepository
	gateway *gatewaymodels.Gateway
	gw      *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	boards := boardrepo.NewMemory()
	agents := agentrepo.NewMemory()
	gateway := &gatewaymodels.Gateway{
		ID:             "g1",
		Name:           "home",
		URL:            "ws://gw:18789",
		MainSessionKey: "main",
		WorkspaceRoot:  "/ws",
	}
	engine := NewEngine(boards, agents, provisioner.New(logger.Default()), "http://mc:8080", logger.Default())
	engine.backoff = func() *rpc.Backoff {
		return &rpc.Backoff{Base: time.Millisecond, Cap: time.Millisecond, Deadline: 50 * time.Millisecond}
	}
	return &fixture{engine: engine, boards: boards, agents: agents, gateway: gateway, gw: newFakeGateway()}
}

func (f *fixture) addBoard(t *testing.T, name string) *boardmodels.Board {
	t.Helper()
	gatewayID := f.gateway.ID
	board := &boardmodels.Board{OrganizationID: "org1", GatewayID: &gatewayID, Name: name}
	require.NoError(t, f.boards.CreateBoard(context.Background(), board))
	return board
}

func (f *fixture) addAgent(t *testing.T, boardID, name, plaintext string) *agentmodels.Agent {
	t.Helper()
	hash := token.Hash(plaintext)
	agent := &agentmodels.Agent{BoardID: &boardID, Name: name, AgentTokenHash: &hash}
	require.NoError(t, f.agents.Create(context.Background(), agent))
	agentID := provisioner.GatewayAgentID(provisioner.SessionKey(agent))
	f.gw.files[agentID] = map[string]string{
		"TOOLS.md": "# Tools\nAUTH_TOKEN=" + plaintext + "\n",
	}
	return agent
}

func TestExtractEnvValue(t *testing.T) {
	content := "# Tools\nBase URL: http://x\nAUTH_TOKEN=abc123\nOTHER=42\n"

	value, ok := ExtractEnvValue(content, "AUTH_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "abc123", value)

	_, ok = ExtractEnvValue(content, "MISSING")
	assert.False(t, ok)

	_, ok = ExtractEnvValue("AUTH_TOKEN=\n", "AUTH_TOKEN")
	assert.False(t, ok)
}

func TestSyncUpdatesAgents(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	f.addAgent(t, board.ID, "Scout", "tok-scout")
	f.addAgent(t, board.ID, "Pathfinder", "tok-path")

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.AgentsUpdated)
	assert.Zero(t, result.AgentsSkipped)
	assert.Empty(t, result.Errors)

	// Recovered tokens survive the rewrite.
	assert.Contains(t, f.gw.files["scout"]["TOOLS.md"], "AUTH_TOKEN=tok-scout")
}

func TestSyncSkipsAgentWithoutToken(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	agent := f.addAgent(t, board.ID, "Scout", "tok")
	f.gw.files["scout"] = map[string]string{"TOOLS.md": "# Tools\nno token here\n"}

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.AgentsUpdated)
	assert.Equal(t, 1, result.AgentsSkipped)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, agent.ID, result.Errors[0].AgentID)
	assert.Contains(t, result.Errors[0].Message, "rotate_tokens=true")
}

func TestSyncRotateTokensIssuesFreshToken(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	agent := f.addAgent(t, board.ID, "Scout", "tok-old")
	f.gw.files["scout"] = map[string]string{"TOOLS.md": "# Tools\nno token here\n"}

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{RotateTokens: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AgentsUpdated)

	updated, err := f.agents.Get(context.Background(), agent.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AgentTokenHash)
	assert.NotEqual(t, token.Hash("tok-old"), *updated.AgentTokenHash)

	rendered, ok := ExtractEnvValue(f.gw.files["scout"]["TOOLS.md"], "AUTH_TOKEN")
	require.True(t, ok)
	assert.True(t, token.Matches(rendered, *updated.AgentTokenHash))
}

func TestSyncExcludesPausedBoards(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	f.addAgent(t, board.ID, "Scout", "tok")
	require.NoError(t, f.boards.CreateMemory(context.Background(), &boardmodels.BoardMemory{
		BoardID: board.ID,
		Content: "/pause",
		IsChat:  true,
	}))

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.AgentsUpdated)
	assert.Empty(t, result.Errors)
}

func TestSyncResumedBoardIsIncluded(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	f.addAgent(t, board.ID, "Scout", "tok")
	require.NoError(t, f.boards.CreateMemory(context.Background(), &boardmodels.BoardMemory{
		BoardID: board.ID, Content: "/pause", IsChat: true,
	}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, f.boards.CreateMemory(context.Background(), &boardmodels.BoardMemory{
		BoardID: board.ID, Content: "/resume", IsChat: true,
	}))

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AgentsUpdated)
}

func TestSyncBoardFilterRejectsForeignBoard(t *testing.T) {
	f := newFixture(t)
	f.addBoard(t, "Launch")

	_, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{BoardID: "not-here"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong to this gateway")
}

func TestSyncUnreachableGatewayFailsFast(t *testing.T) {
	f := newFixture(t)
	board := f.addBoard(t, "Launch")
	f.addAgent(t, board.ID, "Scout", "tok")
	f.gw.down = true

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.AgentsUpdated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "unreachable")
}

func TestSyncIncludeMain(t *testing.T) {
	f := newFixture(t)
	mainKey := "main"
	hash := token.Hash("tok-main")
	main := &agentmodels.Agent{Name: "Main", OpenClawSessionID: &mainKey, AgentTokenHash: &hash}
	require.NoError(t, f.agents.Create(context.Background(), main))
	f.gw.files["main"] = map[string]string{"TOOLS.md": "AUTH_TOKEN=tok-main\n"}

	result, err := f.engine.Sync(context.Background(), f.gateway, f.gw, Options{IncludeMain: true})
	require.NoError(t, err)
	assert.True(t, result.MainUpdated)
	assert.Contains(t, f.gw.files["main"]["AGENTS.md"], "gateway-wide main agent")
}
