// Package service implements agent lifecycle: creation with gateway
// provisioning, updates, deletion with task unassignment, and
// heartbeats.
package service

import (
	"context"
	"fmt"
	"time"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	activityservice "github.com/pedrohperalta/openclaw-mission-control/internal/activity/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// GatewayDialer hands out a caller for a gateway record. The gateway
// service implements it with a cached client per gateway.
type GatewayDialer interface {
	CallerFor(gateway *gatewaymodels.Gateway) rpc.Caller
}

// Service is the agent domain facade.
type Service struct {
	agents      agentrepo.Repository
	boards      boardrepo.Repository
	gateways    gatewayrepo.Repository
	activity    activityrepo.Repository
	provisioner *provisioner.Provisioner
	dialer      GatewayDialer
	bus         bus.EventBus
	baseURL     string
	log         *logger.Logger
}

// NewService wires the agent service.
func NewService(
	agents agentrepo.Repository,
	boards boardrepo.Repository,
	gateways gatewayrepo.Repository,
	activity activityrepo.Repository,
	prov *provisioner.Provisioner,
	dialer GatewayDialer,
	eventBus bus.EventBus,
	baseURL string,
	log *logger.Logger,
) *Service {
	return &Service{
		agents:      agents,
		boards:      boards,
		gateways:    gateways,
		activity:    activity,
		provisioner: prov,
		dialer:      dialer,
		bus:         eventBus,
		baseURL:     baseURL,
		log:         log,
	}
}

// CreateAgentInput carries new-agent fields.
type CreateAgentInput struct {
	BoardID          string     `json:"board_id"`
	Name             string     `json:"name"`
	IsBoardLead      bool       `json:"is_board_lead"`
	IdentityProfile  db.JSONMap `json:"identity_profile"`
	HeartbeatEvery   string     `json:"heartbeat_every"`
	SoulTemplate     *string    `json:"soul_template"`
	IdentityTemplate *string    `json:"identity_template"`
	UserName         string     `json:"-"`
}

// Create validates the full collision chain, stores the agent, and
// provisions its gateway workspace. The gateway calls happen after the
// record is durable; their failure marks the agent but does not undo
// the insert.
func (s *Service) Create(ctx context.Context, actor *authservice.Actor, in CreateAgentInput) (*models.Agent, error) {
	if err := s.requireAgentManager(actor, in.BoardID); err != nil {
		return nil, err
	}
	name, ok := stringutil.TrimNonEmpty(in.Name)
	if !ok {
		return nil, apperrors.ValidationError("agent name is required")
	}

	board, err := s.boards.GetBoard(ctx, in.BoardID)
	if err != nil {
		return nil, err
	}
	if board.GatewayID == nil {
		return nil, apperrors.ValidationError("board has no gateway attached")
	}
	gateway, err := s.gateways.Get(ctx, *board.GatewayID)
	if err != nil {
		return nil, err
	}
	if !gateway.Provisionable() {
		return nil, apperrors.ValidationError("gateway is missing url, main session key, or workspace root")
	}

	if err := s.checkCollisions(ctx, gateway, in.BoardID, name, in.IsBoardLead); err != nil {
		return nil, err
	}

	plaintext := token.Generate()
	hash := token.Hash(plaintext)
	sessionKey := "agent:" + stringutil.Slugify(name) + ":main"
	heartbeat := db.JSONMap{"every": models.DefaultHeartbeat().Every, "target": models.DefaultHeartbeat().Target}
	if in.HeartbeatEvery != "" {
		heartbeat["every"] = in.HeartbeatEvery
	}

	agent := &models.Agent{
		BoardID:           &in.BoardID,
		Name:              name,
		IsBoardLead:       in.IsBoardLead,
		Status:            models.StatusProvisioning,
		OpenClawSessionID: &sessionKey,
		HeartbeatConfig:   heartbeat,
		IdentityProfile:   in.IdentityProfile,
		IdentityTemplate:  in.IdentityTemplate,
		SoulTemplate:      in.SoulTemplate,
		AgentTokenHash:    &hash,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}
	s.record(ctx, events.AgentCreated, nil, &agent.ID,
		fmt.Sprintf("Agent %s created on board %s.", name, board.Name))

	caller := s.dialer.CallerFor(gateway)
	result, err := s.provisioner.Provision(ctx, caller, provisioner.Input{
		Agent:    agent,
		Board:    board,
		Gateway:  gateway,
		Token:    plaintext,
		UserName: in.UserName,
		BaseURL:  s.baseURL,
		Action:   provisioner.ActionCreate,
	})
	if err != nil {
		s.record(ctx, events.AgentProvisionFailed, nil, &agent.ID,
			fmt.Sprintf("Provisioning failed for %s: %v", name, err))
		return agent, nil
	}
	s.record(ctx, events.AgentSessionCreated, nil, &agent.ID,
		fmt.Sprintf("Session %s created for %s.", result.SessionKey, name))

	s.sendWakeup(ctx, caller, agent, board.Name)
	return agent, nil
}

// sendWakeup posts the first direct message into a fresh session so
// the agent boots without waiting for a heartbeat.
func (s *Service) sendWakeup(ctx context.Context, caller rpc.Caller, agent *models.Agent, boardName string) {
	text := fmt.Sprintf("You are %s on the board %q. Read BOOTSTRAP.md in your workspace and follow it.", agent.Name, boardName)
	if err := rpc.SendMessage(ctx, caller, provisioner.SessionKey(agent), text, true); err != nil {
		s.log.WithError(err).WithAgentID(agent.ID).Warn("wakeup message failed")
		return
	}
	s.record(ctx, events.AgentWakeupSent, nil, &agent.ID,
		fmt.Sprintf("Wakeup sent to %s.", agent.Name))
}

// checkCollisions enforces the three 409 variants: duplicate name on
// the board, duplicate name across the gateway's boards, and a session
// key already taken on the gateway.
func (s *Service) checkCollisions(ctx context.Context, gateway *gatewaymodels.Gateway, boardID, name string, isLead bool) error {
	if _, err := s.agents.FindByNameOnBoard(ctx, boardID, name); err == nil {
		return apperrors.Conflict(apperrors.CodeNameCollision,
			"An agent with this name already exists on this board.")
	} else if !apperrors.IsNotFound(err) {
		return err
	}
	if _, err := s.agents.FindByNameInGateway(ctx, gateway.ID, name); err == nil {
		return apperrors.Conflict(apperrors.CodeNameCollision,
			"An agent with this name already exists on another board of this gateway; workspaces would collide.")
	} else if !apperrors.IsNotFound(err) {
		return err
	}
	sessionKey := "agent:" + stringutil.Slugify(name) + ":main"
	if _, err := s.agents.FindBySessionKeyInGateway(ctx, gateway.ID, sessionKey); err == nil {
		return apperrors.Conflict(apperrors.CodeSessionCollision,
			"An agent with this session key already exists on this gateway.")
	} else if !apperrors.IsNotFound(err) {
		return err
	}
	if sessionKey == gateway.MainSessionKey {
		return apperrors.Conflict(apperrors.CodeSessionCollision,
			"This name would collide with the gateway main session.")
	}
	if isLead {
		if _, err := s.agents.FindBoardLead(ctx, boardID); err == nil {
			return apperrors.Conflict(apperrors.CodeNameCollision,
				"This board already has a lead.")
		} else if !apperrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Get returns one agent with its computed status.
func (s *Service) Get(ctx context.Context, actor *authservice.Actor, id string) (*models.Agent, error) {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.BoardID != nil && !actor.BoardAccess(*agent.BoardID, false) {
		return nil, apperrors.NotFound("agent not found: %s", id)
	}
	agent.Status = agent.ComputedStatus(time.Now().UTC())
	return agent, nil
}

// ListByBoard returns a board's agents with computed statuses.
func (s *Service) ListByBoard(ctx context.Context, actor *authservice.Actor, boardID string) ([]*models.Agent, error) {
	if !actor.BoardAccess(boardID, false) {
		return nil, apperrors.NotFound("board not found: %s", boardID)
	}
	agents, err := s.agents.ListByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, agent := range agents {
		agent.Status = agent.ComputedStatus(now)
	}
	return agents, nil
}

// UpdateAgentInput carries agent patches.
type UpdateAgentInput struct {
	IdentityProfile  db.JSONMap `json:"identity_profile"`
	HeartbeatEvery   *string    `json:"heartbeat_every"`
	SoulTemplate     *string    `json:"soul_template"`
	IdentityTemplate *string    `json:"identity_template"`
	ForceBootstrap   bool       `json:"force_bootstrap"`
	ResetSession     bool       `json:"reset_session"`
	UserName         string     `json:"-"`
}

// Update patches the record and reprovisions the workspace so the
// gateway files reflect the change.
func (s *Service) Update(ctx context.Context, actor *authservice.Actor, id string, in UpdateAgentInput) (*models.Agent, error) {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.BoardID == nil {
		return nil, apperrors.ValidationError("the gateway main is updated through template sync")
	}
	if err := s.requireAgentManager(actor, *agent.BoardID); err != nil {
		return nil, err
	}

	if in.IdentityProfile != nil {
		agent.IdentityProfile = in.IdentityProfile
	}
	if in.HeartbeatEvery != nil {
		if agent.HeartbeatConfig == nil {
			agent.HeartbeatConfig = db.JSONMap{}
		}
		agent.HeartbeatConfig["every"] = *in.HeartbeatEvery
	}
	if in.SoulTemplate != nil {
		agent.SoulTemplate = in.SoulTemplate
	}
	if in.IdentityTemplate != nil {
		agent.IdentityTemplate = in.IdentityTemplate
	}

	plaintext := token.Generate()
	hash := token.Hash(plaintext)
	agent.AgentTokenHash = &hash
	agent.Status = models.StatusUpdating
	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, err
	}

	board, err := s.boards.GetBoard(ctx, *agent.BoardID)
	if err != nil {
		return nil, err
	}
	if board.GatewayID == nil {
		return nil, apperrors.ValidationError("board has no gateway attached")
	}
	gateway, err := s.gateways.Get(ctx, *board.GatewayID)
	if err != nil {
		return nil, err
	}

	caller := s.dialer.CallerFor(gateway)
	_, err = s.provisioner.Provision(ctx, caller, provisioner.Input{
		Agent:          agent,
		Board:          board,
		Gateway:        gateway,
		Token:          plaintext,
		UserName:       in.UserName,
		BaseURL:        s.baseURL,
		Action:         provisioner.ActionUpdate,
		ForceBootstrap: in.ForceBootstrap,
		ResetSession:   in.ResetSession,
	})
	if err != nil {
		s.record(ctx, events.AgentUpdateFailed, nil, &agent.ID,
			fmt.Sprintf("Update provisioning failed for %s: %v", agent.Name, err))
	} else {
		s.record(ctx, events.AgentUpdated, nil, &agent.ID,
			fmt.Sprintf("Agent %s updated.", agent.Name))
		agent.Status = models.StatusProvisioning
		if agent.LastSeenAt != nil {
			agent.Status = models.StatusOnline
		}
		if err := s.agents.Update(ctx, agent); err != nil {
			return nil, err
		}
	}
	return agent, nil
}

// Delete marks the agent deleting, returns its tasks to the inbox,
// nulls its activity references, removes the record, and cleans the
// gateway up in the background.
func (s *Service) Delete(ctx context.Context, actor *authservice.Actor, id string) error {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		return err
	}
	if agent.BoardID == nil {
		return apperrors.ValidationError("the gateway main cannot be deleted here")
	}
	if err := s.requireAgentManager(actor, *agent.BoardID); err != nil {
		return err
	}

	agent.Status = models.StatusDeleting
	if err := s.agents.Update(ctx, agent); err != nil {
		return err
	}

	unassigned, err := s.boards.UnassignAgentTasks(ctx, id)
	if err != nil {
		return err
	}
	for _, task := range unassigned {
		s.record(ctx, events.TaskUnassigned, &task.ID, nil,
			fmt.Sprintf("Task %q returned to inbox: agent %s deleted.", task.Title, agent.Name))
	}
	if err := s.activity.ClearAgent(ctx, id); err != nil {
		return err
	}

	board, boardErr := s.boards.GetBoard(ctx, *agent.BoardID)
	if err := s.agents.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, events.AgentDeleted, nil, nil,
		fmt.Sprintf("Agent %s deleted.", agent.Name))

	// Gateway cleanup is fire and forget; the record is already gone.
	if boardErr == nil && board.GatewayID != nil {
		go func(agent models.Agent, gatewayID string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			gateway, err := s.gateways.Get(ctx, gatewayID)
			if err != nil {
				s.log.WithError(err).WithAgentID(agent.ID).Warn("cleanup gateway lookup failed")
				return
			}
			caller := s.dialer.CallerFor(gateway)
			if _, err := s.provisioner.Cleanup(ctx, caller, &agent, gateway); err != nil {
				s.log.WithError(err).WithAgentID(agent.ID).Warn("gateway cleanup failed")
				s.record(ctx, events.AgentDeleteFailed, nil, nil,
					fmt.Sprintf("Gateway cleanup failed for %s: %v", agent.Name, err))
			}
		}(*agent, *board.GatewayID)
	}
	return nil
}

// Heartbeat records that the calling agent is alive.
func (s *Service) Heartbeat(ctx context.Context, actor *authservice.Actor) (*models.Agent, error) {
	if actor.Type != authservice.ActorAgent {
		return nil, apperrors.Forbidden("heartbeats come from agents")
	}
	agent, err := s.agents.Get(ctx, actor.Agent.ID)
	if err != nil {
		return nil, err
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

// UpdateBoardHeartbeats applies a new interval to every agent on the
// board with one gateway registry patch.
func (s *Service) UpdateBoardHeartbeats(ctx context.Context, actor *authservice.Actor, boardID, every string) error {
	if err := s.requireAgentManager(actor, boardID); err != nil {
		return err
	}
	if _, ok := stringutil.TrimNonEmpty(every); !ok {
		return apperrors.ValidationError("heartbeat interval is required")
	}
	board, err := s.boards.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board.GatewayID == nil {
		return apperrors.ValidationError("board has no gateway attached")
	}
	gateway, err := s.gateways.Get(ctx, *board.GatewayID)
	if err != nil {
		return err
	}
	agents, err := s.agents.ListByBoard(ctx, boardID)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if agent.HeartbeatConfig == nil {
			agent.HeartbeatConfig = db.JSONMap{}
		}
		agent.HeartbeatConfig["every"] = every
		if err := s.agents.Update(ctx, agent); err != nil {
			return err
		}
	}
	caller := s.dialer.CallerFor(gateway)
	return s.provisioner.ApplyHeartbeats(ctx, caller, gateway, agents)
}

// ChangeCursor is the polling core of the agent SSE stream. Each Poll
// returns agents changed since the last call, restricted to boards the
// actor may observe. The overlap at the poll boundary is absorbed by a
// dedup window keyed on the row's change timestamp, so one change is
// never emitted twice.
type ChangeCursor struct {
	service *Service
	actor   *authservice.Actor
	since   time.Time
	seen    *activityservice.DedupRing
}

// NewChangeCursor starts a stream cursor at now for the given actor.
func (s *Service) NewChangeCursor(actor *authservice.Actor) *ChangeCursor {
	return &ChangeCursor{
		service: s,
		actor:   actor,
		since:   time.Now().UTC(),
		seen:    activityservice.NewDedupRing(activityservice.DedupCapacity),
	}
}

// Poll returns the agents that changed since the last call and that the
// cursor's actor may see. An actor with no accessible boards gets an
// empty result, never an error, so its stream stays open.
func (c *ChangeCursor) Poll(ctx context.Context) ([]*models.Agent, error) {
	agents, err := c.service.agents.ListChangedSince(ctx, c.since)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	fresh := agents[:0]
	for _, agent := range agents {
		changed := changedAt(agent)
		if changed.After(c.since) {
			c.since = changed
		}
		if !c.visible(agent) {
			continue
		}
		if !c.seen.Add(agent.ID + "@" + changed.Format(time.RFC3339Nano)) {
			continue
		}
		agent.Status = agent.ComputedStatus(now)
		fresh = append(fresh, agent)
	}
	return fresh, nil
}

// visible scopes the stream: agents without a board (gateway mains)
// show to admins only, the rest follow board access.
func (c *ChangeCursor) visible(agent *models.Agent) bool {
	if agent.BoardID == nil {
		return c.actor.IsAdmin()
	}
	return c.actor.BoardAccess(*agent.BoardID, false)
}

// changedAt is the later of the row's update and heartbeat timestamps,
// the same columns the repository query watches.
func changedAt(agent *models.Agent) time.Time {
	ts := agent.UpdatedAt
	if agent.LastSeenAt != nil && agent.LastSeenAt.After(ts) {
		ts = *agent.LastSeenAt
	}
	return ts.UTC()
}

// requireAgentManager gates agent lifecycle operations: admins, users
// with board write, or the board's lead agent.
func (s *Service) requireAgentManager(actor *authservice.Actor, boardID string) error {
	switch actor.Type {
	case authservice.ActorUser:
		if !actor.BoardAccess(boardID, true) {
			return apperrors.NotFound("board not found: %s", boardID)
		}
		return nil
	case authservice.ActorAgent:
		if actor.Agent.BoardID == nil || *actor.Agent.BoardID != boardID {
			return apperrors.Forbidden("agent cannot act outside its board")
		}
		if !actor.Agent.IsBoardLead {
			return apperrors.Forbidden("only the board lead can manage agents")
		}
		return nil
	}
	return apperrors.Forbidden("unknown actor type")
}

func (s *Service) record(ctx context.Context, eventType string, taskID, agentID *string, message string) {
	event := &activitymodels.ActivityEvent{
		EventType: eventType,
		Message:   message,
		TaskID:    taskID,
		AgentID:   agentID,
	}
	if err := s.activity.Append(ctx, event); err != nil {
		s.log.WithError(err).Warn("activity append failed")
	}
}

func (s *Service) publishHeartbeat(ctx context.Context, agent *models.Agent) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{"agent_id": agent.ID}
	if agent.BoardID != nil {
		data["board_id"] = *agent.BoardID
	}
	if err := s.bus.Publish(ctx, events.SubjectAgentHeartbeat, bus.NewEvent(events.SubjectAgentHeartbeat, "agent-service", data)); err != nil {
		s.log.WithError(err).WithAgentID(agent.ID).Warn("heartbeat publish failed")
	}
}
