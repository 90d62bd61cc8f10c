package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	activitymodels "github.com/pedrohperalta/openclaw-mission-control/internal/activity/models"
	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Reply tags the recipients use when writing their pull-based answers
// into board memory.
const (
	TagGatewayMain = "gateway_main"
	TagUserReply   = "user_reply"
	TagLeadReply   = "lead_reply"
)

// Coordinator routes messages between board leads, the gateway main
// session, and the user. Deliveries are best effort: failures append
// activity events but never fail the operation that triggered them.
type Coordinator struct {
	gateways gatewayrepo.Repository
	boards   boardrepo.Repository
	agents   agentrepo.Repository
	activity activityrepo.Repository
	dialer   Dialer
	bus      bus.EventBus
	baseURL  string
	orgID    string
	log      *logger.Logger
}

// NewCoordinator wires the coordinator.
func NewCoordinator(
	gateways gatewayrepo.Repository,
	boards boardrepo.Repository,
	agents agentrepo.Repository,
	activity activityrepo.Repository,
	dialer Dialer,
	eventBus bus.EventBus,
	baseURL, organizationID string,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		gateways: gateways,
		boards:   boards,
		agents:   agents,
		activity: activity,
		dialer:   dialer,
		bus:      eventBus,
		baseURL:  baseURL,
		orgID:    organizationID,
		log:      log,
	}
}

// Start subscribes the coordinator to task assignment events. The queue
// group keeps a single nudge per assignment when several replicas run.
func (c *Coordinator) Start() (bus.Subscription, error) {
	return c.bus.QueueSubscribe(events.SubjectTaskAssigned, "coordinator", func(ctx context.Context, event *bus.Event) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		taskID, _ := event.Data["task_id"].(string)
		agentID, _ := event.Data["assigned_agent_id"].(string)
		if taskID == "" || agentID == "" {
			return nil
		}
		if err := c.NudgeAgent(ctx, taskID, agentID); err != nil {
			c.log.WithError(err).WithTaskID(taskID).Warn("task nudge failed")
		}
		return nil
	})
}

// NudgeAgent tells an agent's session about a task assigned to it.
func (c *Coordinator) NudgeAgent(ctx context.Context, taskID, agentID string) error {
	task, err := c.boards.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	gateway, err := c.boardGateway(ctx, task.BoardID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf(
		"New task assigned to you: %q (priority %s). Fetch it with GET %s/api/v1/agent/tasks/%s and move it to in_progress when you start.",
		truncate(task.Title, 120), task.Priority, c.baseURL, task.ID)
	if err := rpc.SendMessage(ctx, c.dialer.CallerFor(gateway), provisioner.SessionKey(agent), text, false); err != nil {
		c.record(ctx, events.TaskNudgeFailed, &task.ID, &agent.ID,
			fmt.Sprintf("Nudge to %s failed: %v", agent.Name, err))
		return err
	}
	c.record(ctx, events.TaskNudgeSent, &task.ID, &agent.ID,
		fmt.Sprintf("Nudged %s about %q.", agent.Name, truncate(task.Title, 120)))
	return nil
}

// AskUserInput is a lead's question for the human operator.
type AskUserInput struct {
	Question    string `json:"question"`
	ChannelHint string `json:"channel_hint"`
}

// AskUserResult returns the correlation id the reply will carry.
type AskUserResult struct {
	CorrelationID string `json:"correlation_id"`
}

// AskUser relays a board lead's question to the gateway main session.
// The main agent reaches the user over its own channels and writes the
// answer back as a tagged non-chat board memory; there is no
// synchronous acknowledgement.
func (c *Coordinator) AskUser(ctx context.Context, actor *authservice.Actor, in AskUserInput) (*AskUserResult, error) {
	if actor.Type != authservice.ActorAgent || !actor.Agent.IsBoardLead || actor.Agent.BoardID == nil {
		return nil, apperrors.Forbidden("only board leads ask the user")
	}
	question, ok := stringutil.TrimNonEmpty(in.Question)
	if !ok {
		return nil, apperrors.ValidationError("question is required")
	}
	boardID := *actor.Agent.BoardID
	gateway, err := c.boardGateway(ctx, boardID)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.New().String()
	text := fmt.Sprintf(
		"QUESTION FOR THE USER (correlation %s)\n"+
			"From the lead of board %s: %s\n"+
			"Reach the user via your channels%s. When answered, POST the reply as a non-chat memory to %s/api/v1/agent/boards/%s/memory with tags [%s, %s], source \"gateway_main\", and include the correlation id in the content.",
		correlationID, boardID, question, channelSuffix(in.ChannelHint), c.baseURL, boardID, TagGatewayMain, TagUserReply)
	if err := rpc.SendMessage(ctx, c.dialer.CallerFor(gateway), gateway.MainSessionKey, text, true); err != nil {
		return nil, apperrors.BadGateway("main session unreachable: %v", err)
	}
	c.record(ctx, events.GatewayAskUser, nil, &actor.Agent.ID,
		fmt.Sprintf("%s asked the user: %s", actor.Agent.Name, truncate(question, 200)))
	return &AskUserResult{CorrelationID: correlationID}, nil
}

func channelSuffix(hint string) string {
	if hint == "" {
		return ""
	}
	return fmt.Sprintf(" (preferred channel: %s)", hint)
}

// MessageLeadsInput targets one board of the gateway, or all of them
// when BoardID is empty.
type MessageLeadsInput struct {
	BoardID string `json:"board_id"`
	Message string `json:"message"`
}

// LeadDelivery is the per-board outcome of a lead message.
type LeadDelivery struct {
	BoardID   string `json:"board_id"`
	BoardName string `json:"board_name"`
	AgentID   string `json:"agent_id,omitempty"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
}

// MessageLeadsResult summarizes a single or broadcast delivery.
type MessageLeadsResult struct {
	Results []LeadDelivery `json:"results"`
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
}

// MessageLeads lets the gateway main address board leads, singly or as
// a broadcast across every board attached to its gateway.
func (c *Coordinator) MessageLeads(ctx context.Context, actor *authservice.Actor, in MessageLeadsInput) (*MessageLeadsResult, error) {
	message, ok := stringutil.TrimNonEmpty(in.Message)
	if !ok {
		return nil, apperrors.ValidationError("message is required")
	}
	gateway, err := c.senderGateway(ctx, actor)
	if err != nil {
		return nil, err
	}

	boards, err := c.boards.ListBoardsByGateway(ctx, gateway.ID)
	if err != nil {
		return nil, err
	}
	if in.BoardID != "" {
		filtered := boards[:0]
		for _, board := range boards {
			if board.ID == in.BoardID {
				filtered = append(filtered, board)
			}
		}
		boards = filtered
		if len(boards) == 0 {
			return nil, apperrors.NotFound("board not found on this gateway: %s", in.BoardID)
		}
	}

	caller := c.dialer.CallerFor(gateway)
	result := &MessageLeadsResult{}
	for _, board := range boards {
		delivery := LeadDelivery{BoardID: board.ID, BoardName: board.Name}
		lead, err := c.agents.FindBoardLead(ctx, board.ID)
		if err != nil {
			delivery.Error = "board has no lead"
			result.Failed++
			result.Results = append(result.Results, delivery)
			continue
		}
		delivery.AgentID = lead.ID
		text := fmt.Sprintf(
			"MESSAGE FROM GATEWAY MAIN\n%s\nIf a reply is needed, POST a non-chat memory to %s/api/v1/agent/boards/%s/memory with tags [%s, %s].",
			message, c.baseURL, board.ID, TagGatewayMain, TagLeadReply)
		if err := rpc.SendMessage(ctx, caller, provisioner.SessionKey(lead), text, false); err != nil {
			delivery.Error = err.Error()
			result.Failed++
		} else {
			delivery.Sent = true
			result.Sent++
		}
		result.Results = append(result.Results, delivery)
	}

	eventType := events.GatewayLeadMsg
	if in.BoardID == "" {
		eventType = events.GatewayBroadcast
	}
	c.record(ctx, eventType, nil, nil,
		fmt.Sprintf("Lead message delivered to %d board(s), %d failed.", result.Sent, result.Failed))
	return result, nil
}

// senderGateway resolves which gateway the caller speaks for: the main
// agent's own gateway, or any admin-chosen one when exactly one exists.
func (c *Coordinator) senderGateway(ctx context.Context, actor *authservice.Actor) (*gatewaymodels.Gateway, error) {
	switch actor.Type {
	case authservice.ActorAgent:
		if actor.Agent.BoardID != nil {
			return nil, apperrors.Forbidden("only the gateway main messages leads")
		}
		if actor.Agent.OpenClawSessionID == nil {
			return nil, apperrors.Forbidden("main agent has no session key")
		}
		return c.gateways.FindByMainSessionKey(ctx, *actor.Agent.OpenClawSessionID)
	case authservice.ActorUser:
		if !actor.IsAdmin() {
			return nil, apperrors.Forbidden("only admins broadcast to leads")
		}
		gateways, err := c.gateways.List(ctx, c.orgID)
		if err != nil {
			return nil, err
		}
		if len(gateways) != 1 {
			return nil, apperrors.ValidationError("specify a gateway: %d attached", len(gateways))
		}
		return gateways[0], nil
	}
	return nil, apperrors.Forbidden("unknown actor type")
}

func (c *Coordinator) boardGateway(ctx context.Context, boardID string) (*gatewaymodels.Gateway, error) {
	board, err := c.boards.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board.GatewayID == nil {
		return nil, apperrors.ValidationError("board %q has no gateway attached", board.Name)
	}
	return c.gateways.Get(ctx, *board.GatewayID)
}

func (c *Coordinator) record(ctx context.Context, eventType string, taskID, agentID *string, message string) {
	event := &activitymodels.ActivityEvent{
		EventType: eventType,
		Message:   message,
		TaskID:    taskID,
		AgentID:   agentID,
	}
	if err := c.activity.Append(ctx, event); err != nil {
		c.log.WithError(err).Warn("activity append failed")
	}
}
