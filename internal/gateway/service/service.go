// Package service manages gateway records, their websocket clients,
// and the coordinator that routes messages between leads, the gateway
// main, and the user.
package service

import (
	"context"
	"fmt"
	"net/http"

	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Dialer resolves a caller for a gateway record. *Clients satisfies it;
// tests substitute fakes.
type Dialer interface {
	CallerFor(gateway *models.Gateway) rpc.Caller
}

// Service is the gateway domain facade.
type Service struct {
	gateways       gatewayrepo.Repository
	boards         boardrepo.Repository
	dialer         Dialer
	organizationID string
	log            *logger.Logger

	// probe is swappable in tests; defaults to rpc.CheckCompatibility.
	probe func(ctx context.Context, caller rpc.Caller) (*rpc.Compatibility, error)
}

// NewService wires the gateway service.
func NewService(gateways gatewayrepo.Repository, boards boardrepo.Repository, dialer Dialer, organizationID string, log *logger.Logger) *Service {
	return &Service{
		gateways:       gateways,
		boards:         boards,
		dialer:         dialer,
		organizationID: organizationID,
		log:            log,
		probe:          rpc.CheckCompatibility,
	}
}

// CreateGatewayInput carries new-gateway fields.
type CreateGatewayInput struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Token          string `json:"token"`
	MainSessionKey string `json:"main_session_key"`
	WorkspaceRoot  string `json:"workspace_root"`
}

// Create probes the runtime version before the record is stored. An
// unsupported gateway is rejected with 422 rather than attached and
// left to fail on every later call.
func (s *Service) Create(ctx context.Context, actor *authservice.Actor, in CreateGatewayInput) (*models.Gateway, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only admins manage gateways")
	}
	name, ok := stringutil.TrimNonEmpty(in.Name)
	if !ok {
		return nil, apperrors.ValidationError("gateway name is required")
	}
	if _, ok := stringutil.TrimNonEmpty(in.URL); !ok {
		return nil, apperrors.ValidationError("gateway url is required")
	}

	gateway := &models.Gateway{
		OrganizationID: s.organizationID,
		Name:           name,
		URL:            in.URL,
		Token:          in.Token,
		MainSessionKey: in.MainSessionKey,
		WorkspaceRoot:  in.WorkspaceRoot,
	}
	if err := s.checkCompat(ctx, gateway); err != nil {
		return nil, err
	}
	if err := s.gateways.Create(ctx, gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}

// Get returns one gateway.
func (s *Service) Get(ctx context.Context, actor *authservice.Actor, id string) (*models.Gateway, error) {
	if actor.Type != authservice.ActorUser {
		return nil, apperrors.Forbidden("agents do not read gateway records")
	}
	return s.gateways.Get(ctx, id)
}

// List returns the organization's gateways.
func (s *Service) List(ctx context.Context, actor *authservice.Actor) ([]*models.Gateway, error) {
	if actor.Type != authservice.ActorUser {
		return nil, apperrors.Forbidden("agents do not read gateway records")
	}
	return s.gateways.List(ctx, s.organizationID)
}

// UpdateGatewayInput carries gateway patches.
type UpdateGatewayInput struct {
	Name           *string `json:"name"`
	URL            *string `json:"url"`
	Token          *string `json:"token"`
	MainSessionKey *string `json:"main_session_key"`
	WorkspaceRoot  *string `json:"workspace_root"`
}

// Update patches the record. Changing the URL or token re-runs the
// version probe against the new endpoint.
func (s *Service) Update(ctx context.Context, actor *authservice.Actor, id string, in UpdateGatewayInput) (*models.Gateway, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only admins manage gateways")
	}
	gateway, err := s.gateways.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reprobe := false
	if in.Name != nil {
		name, ok := stringutil.TrimNonEmpty(*in.Name)
		if !ok {
			return nil, apperrors.ValidationError("gateway name is required")
		}
		gateway.Name = name
	}
	if in.URL != nil && *in.URL != gateway.URL {
		gateway.URL = *in.URL
		reprobe = true
	}
	if in.Token != nil && *in.Token != gateway.Token {
		gateway.Token = *in.Token
		reprobe = true
	}
	if in.MainSessionKey != nil {
		gateway.MainSessionKey = *in.MainSessionKey
	}
	if in.WorkspaceRoot != nil {
		gateway.WorkspaceRoot = *in.WorkspaceRoot
	}

	if reprobe {
		if err := s.checkCompat(ctx, gateway); err != nil {
			return nil, err
		}
	}
	if err := s.gateways.Update(ctx, gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}

// Delete removes a gateway that has no boards attached.
func (s *Service) Delete(ctx context.Context, actor *authservice.Actor, id string) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("only admins manage gateways")
	}
	boards, err := s.boards.ListBoardsByGateway(ctx, id)
	if err != nil {
		return err
	}
	if len(boards) > 0 {
		return apperrors.Conflict(apperrors.CodeConflict,
			"Detach the %d board(s) using this gateway first.", len(boards))
	}
	if err := s.gateways.Delete(ctx, id); err != nil {
		return err
	}
	if closer, ok := s.dialer.(interface{ Drop(id string) }); ok {
		closer.Drop(id)
	}
	return nil
}

func (s *Service) checkCompat(ctx context.Context, gateway *models.Gateway) error {
	compat, err := s.probe(ctx, s.dialer.CallerFor(gateway))
	if err != nil {
		return apperrors.BadGateway("gateway probe failed: %v", err)
	}
	if !compat.Compatible {
		return &apperrors.AppError{
			Code:       apperrors.CodeGatewayIncompat,
			Message:    compat.Message,
			HTTPStatus: http.StatusUnprocessableEntity,
			Details: map[string]interface{}{
				"current": compat.Current,
				"minimum": compat.Minimum,
			},
		}
	}
	return nil
}

// StatusReport is the /gateways/status payload. Failures never surface
// as 500; they become connected=false plus the error string.
type StatusReport struct {
	GatewayID string             `json:"gateway_id"`
	Name      string             `json:"name"`
	Connected bool               `json:"connected"`
	Sessions  []rpc.SessionEntry `json:"sessions,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Status reports the live session listing per gateway. The main session
// always appears in a healthy report even when the runtime has not
// spawned it yet.
func (s *Service) Status(ctx context.Context, actor *authservice.Actor) ([]StatusReport, error) {
	gateways, err := s.List(ctx, actor)
	if err != nil {
		return nil, err
	}
	reports := make([]StatusReport, 0, len(gateways))
	for _, gateway := range gateways {
		report := StatusReport{GatewayID: gateway.ID, Name: gateway.Name}
		sessions, err := rpc.ListSessions(ctx, s.dialer.CallerFor(gateway))
		if err != nil {
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}
		report.Connected = true
		report.Sessions = ensureMainListed(sessions, gateway.MainSessionKey)
		reports = append(reports, report)
	}
	return reports, nil
}

func ensureMainListed(sessions []rpc.SessionEntry, mainKey string) []rpc.SessionEntry {
	if mainKey == "" {
		return sessions
	}
	for _, session := range sessions {
		if session.Key == mainKey {
			return sessions
		}
	}
	return append(sessions, rpc.SessionEntry{Key: mainKey, Label: "main"})
}

// Sessions lists live sessions across a single gateway.
func (s *Service) Sessions(ctx context.Context, actor *authservice.Actor, gatewayID string) ([]rpc.SessionEntry, error) {
	gateway, err := s.Get(ctx, actor, gatewayID)
	if err != nil {
		return nil, err
	}
	sessions, err := rpc.ListSessions(ctx, s.dialer.CallerFor(gateway))
	if err != nil {
		return nil, apperrors.BadGateway("sessions listing failed: %v", err)
	}
	return ensureMainListed(sessions, gateway.MainSessionKey), nil
}

// SessionHistory returns the transcript of one session.
func (s *Service) SessionHistory(ctx context.Context, actor *authservice.Actor, gatewayID, sessionKey string) ([]rpc.HistoryMessage, error) {
	gateway, err := s.Get(ctx, actor, gatewayID)
	if err != nil {
		return nil, err
	}
	history, err := rpc.GetHistory(ctx, s.dialer.CallerFor(gateway), sessionKey)
	if err != nil {
		return nil, apperrors.BadGateway("history fetch failed: %v", err)
	}
	return history, nil
}

// SendSessionMessage posts a message into an arbitrary session.
func (s *Service) SendSessionMessage(ctx context.Context, actor *authservice.Actor, gatewayID, sessionKey, text string) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden("only admins write to raw sessions")
	}
	message, ok := stringutil.TrimNonEmpty(text)
	if !ok {
		return apperrors.ValidationError("message is required")
	}
	gateway, err := s.gateways.Get(ctx, gatewayID)
	if err != nil {
		return err
	}
	if err := rpc.SendMessage(ctx, s.dialer.CallerFor(gateway), sessionKey, message, true); err != nil {
		return apperrors.BadGateway("session send failed: %v", err)
	}
	return nil
}

// Commands describes the wire protocol for API clients.
type Commands struct {
	Protocol string   `json:"protocol"`
	Minimum  string   `json:"minimum_gateway_version"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// ListCommands returns the static protocol description.
func (s *Service) ListCommands() Commands {
	return Commands{
		Protocol: "jsonrpc-ws/1",
		Minimum:  rpc.MinGatewayVersion,
		Methods: []string{
			rpc.MethodSessionsList, rpc.MethodSessionsGet, rpc.MethodSessionsSpawn,
			rpc.MethodSessionsSend, rpc.MethodSessionsHistory, rpc.MethodSessionsReset,
			rpc.MethodSessionsDelete, rpc.MethodAgentsList, rpc.MethodAgentsFileLst,
			rpc.MethodAgentsFileGet, rpc.MethodAgentsFileSet, rpc.MethodConfigGet,
			rpc.MethodConfigPatch, rpc.MethodConfigSchema, rpc.MethodStatus, rpc.MethodHealth,
		},
		Events: []string{rpc.FrameTypeEvent},
	}
}

// boardGateway resolves the gateway a board is attached to.
func (s *Service) boardGateway(ctx context.Context, boardID string) (*models.Gateway, error) {
	board, err := s.boards.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board.GatewayID == nil {
		return nil, apperrors.ValidationError("board %q has no gateway attached", board.Name)
	}
	return s.gateways.Get(ctx, *board.GatewayID)
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return fmt.Sprintf("%s...", text[:max])
}
