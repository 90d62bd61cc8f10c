// Package templatesync reconciles every agent on a gateway with the
// current workspace templates.
package templatesync

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Options are the per-run flags.
type Options struct {
	IncludeMain    bool   `json:"include_main"`
	ResetSessions  bool   `json:"reset_sessions"`
	RotateTokens   bool   `json:"rotate_tokens"`
	ForceBootstrap bool   `json:"force_bootstrap"`
	BoardID        string `json:"board_id"`
	UserName       string `json:"-"`
}

// SyncError identifies which agent a failure belongs to.
type SyncError struct {
	BoardID string `json:"board_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Message string `json:"message"`
}

// SyncResult summarises one reconciliation run.
type SyncResult struct {
	GatewayID     string      `json:"gateway_id"`
	AgentsUpdated int         `json:"agents_updated"`
	AgentsSkipped int         `json:"agents_skipped"`
	MainUpdated   bool        `json:"main_updated"`
	Errors        []SyncError `json:"errors"`
}

// Engine runs template reconciliation against one gateway at a time.
type Engine struct {
	boards      boardrepo.Repository
	agents      agentrepo.Repository
	provisioner *provisioner.Provisioner
	baseURL     string
	log         *logger.Logger
	backoff     func() *rpc.Backoff
}

// NewEngine wires the sync engine. baseURL is rendered into agent
// TOOLS.md files.
func NewEngine(boards boardrepo.Repository, agents agentrepo.Repository, prov *provisioner.Provisioner, baseURL string, log *logger.Logger) *Engine {
	return &Engine{
		boards:      boards,
		agents:      agents,
		provisioner: prov,
		baseURL:     baseURL,
		log:         log,
		backoff:     rpc.NewBackoff,
	}
}

// pauseCommand in a board's latest chat memory excludes the board from
// syncs until /resume.
const (
	pauseCommand  = "/pause"
	resumeCommand = "/resume"
)

var envLinePattern = regexp.MustCompile(`(?m)^([A-Z0-9_]+)=(.*)$`)

// ExtractEnvValue pulls the value of an UPPER_SNAKE key from rendered
// file content, used to recover AUTH_TOKEN from TOOLS.md.
func ExtractEnvValue(content, key string) (string, bool) {
	for _, match := range envLinePattern.FindAllStringSubmatch(content, -1) {
		if match[1] == key {
			value := strings.TrimSpace(match[2])
			return value, value != ""
		}
	}
	return "", false
}

// Sync reconciles the gateway's agents. It never returns a partial
// error: per-agent failures land in the result's error list.
func (e *Engine) Sync(ctx context.Context, gateway *gatewaymodels.Gateway, caller rpc.Caller, opts Options) (*SyncResult, error) {
	result := &SyncResult{GatewayID: gateway.ID}

	err := e.backoff().Do(ctx, func(ctx context.Context) error {
		_, err := rpc.ListAgents(ctx, caller)
		return err
	})
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			Message: fmt.Sprintf("gateway unreachable: %v", err),
		})
		return result, nil
	}

	boards, err := e.selectBoards(ctx, gateway, opts.BoardID)
	if err != nil {
		return nil, err
	}

	for _, board := range boards {
		paused, err := e.boardPaused(ctx, board.ID)
		if err != nil {
			return nil, err
		}
		if paused {
			e.log.WithBoardID(board.ID).Info("board paused, skipping sync")
			continue
		}

		agents, err := e.agents.ListByBoard(ctx, board.ID)
		if err != nil {
			return nil, err
		}
		for _, agent := range agents {
			e.syncAgent(ctx, gateway, caller, board, agent, opts, result)
		}
	}

	if opts.IncludeMain {
		e.syncMain(ctx, gateway, caller, opts, result)
	}
	return result, nil
}

func (e *Engine) selectBoards(ctx context.Context, gateway *gatewaymodels.Gateway, boardID string) ([]*boardmodels.Board, error) {
	all, err := e.boards.ListBoardsByGateway(ctx, gateway.ID)
	if err != nil {
		return nil, err
	}
	if boardID == "" {
		return all, nil
	}
	for _, board := range all {
		if board.ID == boardID {
			return []*boardmodels.Board{board}, nil
		}
	}
	return nil, apperrors.NotFound("Board does not belong to this gateway.")
}

func (e *Engine) boardPaused(ctx context.Context, boardID string) (bool, error) {
	latest, err := e.boards.LatestChatMemory(ctx, boardID)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	content := strings.TrimSpace(latest.Content)
	return strings.HasPrefix(content, pauseCommand) && !strings.HasPrefix(content, resumeCommand), nil
}

func (e *Engine) syncAgent(ctx context.Context, gateway *gatewaymodels.Gateway, caller rpc.Caller, board *boardmodels.Board, agent *agentmodels.Agent, opts Options, result *SyncResult) {
	plaintext, rotated, err := e.recoverToken(ctx, caller, agent, opts.RotateTokens)
	if err != nil {
		result.AgentsSkipped++
		result.Errors = append(result.Errors, SyncError{
			BoardID: board.ID,
			AgentID: agent.ID,
			Message: err.Error(),
		})
		return
	}
	if rotated {
		hash := token.Hash(plaintext)
		agent.AgentTokenHash = &hash
		if err := e.agents.Update(ctx, agent); err != nil {
			result.AgentsSkipped++
			result.Errors = append(result.Errors, SyncError{
				BoardID: board.ID,
				AgentID: agent.ID,
				Message: fmt.Sprintf("store rotated token: %v", err),
			})
			return
		}
	}

	in := provisioner.Input{
		Agent:          agent,
		Board:          board,
		Gateway:        gateway,
		Token:          plaintext,
		UserName:       opts.UserName,
		BaseURL:        e.baseURL,
		Action:         provisioner.ActionUpdate,
		ForceBootstrap: opts.ForceBootstrap,
		ResetSession:   opts.ResetSessions,
	}
	err = e.backoff().Do(ctx, func(ctx context.Context) error {
		_, provErr := e.provisioner.Provision(ctx, caller, in)
		return provErr
	})
	if err != nil {
		result.AgentsSkipped++
		result.Errors = append(result.Errors, SyncError{
			BoardID: board.ID,
			AgentID: agent.ID,
			Message: err.Error(),
		})
		return
	}
	result.AgentsUpdated++
}

// recoverToken reads the active plaintext token back from the agent's
// TOOLS.md. A missing token requires rotate_tokens; a token that no
// longer matches the stored hash is kept with a warning unless
// rotation was requested.
func (e *Engine) recoverToken(ctx context.Context, caller rpc.Caller, agent *agentmodels.Agent, rotate bool) (plaintext string, rotated bool, err error) {
	if rotate {
		return token.Generate(), true, nil
	}

	agentID := provisioner.GatewayAgentID(provisioner.SessionKey(agent))
	content, found, err := rpc.GetAgentFile(ctx, caller, agentID, "TOOLS.md")
	if err != nil {
		return "", false, fmt.Errorf("read TOOLS.md: %w", err)
	}
	recovered, ok := "", false
	if found {
		recovered, ok = ExtractEnvValue(content, "AUTH_TOKEN")
	}
	if !ok {
		return "", false, fmt.Errorf("no AUTH_TOKEN found in TOOLS.md; rerun with rotate_tokens=true to issue a new one")
	}

	if agent.AgentTokenHash != nil && !token.Matches(recovered, *agent.AgentTokenHash) {
		e.log.WithAgentID(agent.ID).Warn("recovered token does not match stored hash, keeping gateway copy")
	}
	return recovered, false, nil
}

func (e *Engine) syncMain(ctx context.Context, gateway *gatewaymodels.Gateway, caller rpc.Caller, opts Options, result *SyncResult) {
	main, err := e.agents.FindBySessionKey(ctx, gateway.MainSessionKey)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			Message: fmt.Sprintf("main agent lookup: %v", err),
		})
		return
	}

	plaintext, rotated, err := e.recoverToken(ctx, caller, main, opts.RotateTokens)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			AgentID: main.ID,
			Message: err.Error(),
		})
		return
	}
	if rotated {
		hash := token.Hash(plaintext)
		main.AgentTokenHash = &hash
		if err := e.agents.Update(ctx, main); err != nil {
			result.Errors = append(result.Errors, SyncError{
				AgentID: main.ID,
				Message: fmt.Sprintf("store rotated token: %v", err),
			})
			return
		}
	}

	in := provisioner.Input{
		Agent:          main,
		Gateway:        gateway,
		Token:          plaintext,
		UserName:       opts.UserName,
		BaseURL:        e.baseURL,
		Action:         provisioner.ActionUpdate,
		ForceBootstrap: opts.ForceBootstrap,
	}
	err = e.backoff().Do(ctx, func(ctx context.Context) error {
		_, provErr := e.provisioner.ProvisionMain(ctx, caller, in)
		return provErr
	})
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			AgentID: main.ID,
			Message: err.Error(),
		})
		return
	}
	result.MainUpdated = true
}
