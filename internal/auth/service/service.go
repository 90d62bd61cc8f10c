// Package service authenticates API callers and answers access
// questions for the rest of the control plane.
package service

import (
	"context"

	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	"github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authrepo "github.com/pedrohperalta/openclaw-mission-control/internal/auth/repository"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
)

// ActorType distinguishes the two credential kinds.
type ActorType string

const (
	ActorUser  ActorType = "user"
	ActorAgent ActorType = "agent"
)

// Actor is the authenticated caller attached to a request.
type Actor struct {
	Type   ActorType
	User   *models.User
	Member *models.Member
	Agent  *agentmodels.Agent
}

// IsAdmin reports whether the actor is an admin member.
func (a *Actor) IsAdmin() bool {
	return a.Type == ActorUser && a.Member != nil && a.Member.IsAdmin()
}

// BoardAccess reports whether the actor may see (write=false) or
// mutate (write=true) the given board. Agents are scoped to their own
// board and always hold write there.
func (a *Actor) BoardAccess(boardID string, write bool) bool {
	switch a.Type {
	case ActorUser:
		return a.Member != nil && a.Member.BoardAccess(boardID, write)
	case ActorAgent:
		return a.Agent != nil && a.Agent.BoardID != nil && *a.Agent.BoardID == boardID
	}
	return false
}

// Service resolves bearer tokens to actors.
type Service struct {
	users          authrepo.Repository
	agents         agentrepo.Repository
	organizationID string
}

// NewService wires the auth service. organizationID is the single
// tenant this deployment serves.
func NewService(users authrepo.Repository, agents agentrepo.Repository, organizationID string) *Service {
	return &Service{users: users, agents: agents, organizationID: organizationID}
}

// OrganizationID returns the tenant this deployment serves.
func (s *Service) OrganizationID() string { return s.organizationID }

// AuthenticateUser resolves a user API token to an actor with its
// membership loaded.
func (s *Service) AuthenticateUser(ctx context.Context, rawToken string) (*Actor, error) {
	if rawToken == "" {
		return nil, apperrors.Unauthorized("missing token")
	}
	user, err := s.users.FindUserByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		return nil, err
	}
	member, err := s.users.GetMember(ctx, s.organizationID, user.ID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Forbidden("user has no membership in this organization")
		}
		return nil, err
	}
	return &Actor{Type: ActorUser, User: user, Member: member}, nil
}

// AuthenticateAgent resolves an agent token to an agent actor.
func (s *Service) AuthenticateAgent(ctx context.Context, rawToken string) (*Actor, error) {
	if rawToken == "" {
		return nil, apperrors.Unauthorized("missing token")
	}
	agent, err := s.agents.FindByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("invalid token")
		}
		return nil, err
	}
	return &Actor{Type: ActorAgent, Agent: agent}, nil
}

// Authenticate tries a user credential first, then an agent one.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*Actor, error) {
	actor, err := s.AuthenticateUser(ctx, rawToken)
	if err == nil {
		return actor, nil
	}
	if !apperrors.IsNotFound(err) && apperrors.GetHTTPStatus(err) != 401 {
		return nil, err
	}
	return s.AuthenticateAgent(ctx, rawToken)
}
