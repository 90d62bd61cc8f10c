package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

const soulFile = "SOUL.md"

// HeartbeatInput names the agent a first heartbeat should register.
// Both fields are ignored for agent-token callers.
type HeartbeatInput struct {
	BoardID string `json:"board_id"`
	Name    string `json:"name"`
}

// RegisterHeartbeat handles a heartbeat from either actor kind. Agent
// tokens mark their own row online. Admin users may register a missing
// agent on first heartbeat by naming its board; an existing agent of
// that name is just touched.
func (s *Service) RegisterHeartbeat(ctx context.Context, actor *authservice.Actor, in HeartbeatInput) (*models.Agent, error) {
	if actor.Type == authservice.ActorAgent {
		return s.Heartbeat(ctx, actor)
	}
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can register agents by heartbeat")
	}
	if in.BoardID == "" || in.Name == "" {
		return nil, apperrors.ValidationError("board_id and name are required to register an agent")
	}

	agent, err := s.agents.FindByNameOnBoard(ctx, in.BoardID, in.Name)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if agent == nil {
		agent, err = s.Create(ctx, actor, CreateAgentInput{BoardID: in.BoardID, Name: in.Name})
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	agent.LastSeenAt = &now
	if agent.Status != models.StatusDeleting {
		agent.Status = models.StatusOnline
	}
	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, err
	}
	s.record(ctx, events.AgentHeartbeat, nil, &agent.ID,
		fmt.Sprintf("Heartbeat received from %s.", agent.Name))
	s.publishHeartbeat(ctx, agent)
	return agent, nil
}

// GetSoul fetches the calling agent's SOUL.md from its gateway
// workspace.
func (s *Service) GetSoul(ctx context.Context, actor *authservice.Actor) (string, error) {
	agent, gateway, err := s.ownWorkspace(ctx, actor)
	if err != nil {
		return "", err
	}
	caller := s.dialer.CallerFor(gateway)
	content, found, err := rpc.GetAgentFile(ctx, caller, gatewayAgentID(agent), soulFile)
	if err != nil {
		return "", apperrors.BadGateway("soul fetch failed: %v", err)
	}
	if !found {
		return "", apperrors.NotFound("agent has no %s yet", soulFile)
	}
	return content, nil
}

// PutSoul replaces the calling agent's SOUL.md on its gateway
// workspace and pins the override so template sync preserves it.
func (s *Service) PutSoul(ctx context.Context, actor *authservice.Actor, content string) error {
	agent, gateway, err := s.ownWorkspace(ctx, actor)
	if err != nil {
		return err
	}
	caller := s.dialer.CallerFor(gateway)
	if err := rpc.SetAgentFile(ctx, caller, gatewayAgentID(agent), soulFile, content); err != nil {
		return apperrors.BadGateway("soul update failed: %v", err)
	}
	agent.SoulTemplate = &content
	if err := s.agents.Update(ctx, agent); err != nil {
		return err
	}
	s.record(ctx, events.AgentUpdated, nil, &agent.ID,
		fmt.Sprintf("%s rewrote its %s.", agent.Name, soulFile))
	return nil
}

func (s *Service) ownWorkspace(ctx context.Context, actor *authservice.Actor) (*models.Agent, *gatewaymodels.Gateway, error) {
	if actor.Type != authservice.ActorAgent {
		return nil, nil, apperrors.Forbidden("agent credentials required")
	}
	agent, err := s.agents.Get(ctx, actor.Agent.ID)
	if err != nil {
		return nil, nil, err
	}
	if agent.BoardID == nil {
		return nil, nil, apperrors.ValidationError("agent has no board")
	}
	board, err := s.boards.GetBoard(ctx, *agent.BoardID)
	if err != nil {
		return nil, nil, err
	}
	if board.GatewayID == nil {
		return nil, nil, apperrors.ValidationError("board %q has no gateway attached", board.Name)
	}
	gateway, err := s.gateways.Get(ctx, *board.GatewayID)
	if err != nil {
		return nil, nil, err
	}
	return agent, gateway, nil
}

func gatewayAgentID(agent *models.Agent) string {
	key := provisioner.SessionKey(agent)
	if agent.OpenClawSessionID != nil && *agent.OpenClawSessionID != "" {
		key = *agent.OpenClawSessionID
	}
	return provisioner.GatewayAgentID(key)
}
