package service

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/httpmw"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

const actorContextKey = "auth.actor"

// bearerToken extracts the credential from the Authorization header,
// falling back to the token query parameter for SSE clients that
// cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// RequireUser authenticates a user token and aborts with 401 on
// failure.
func (s *Service) RequireUser(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.AuthenticateUser(c.Request.Context(), bearerToken(c))
		if err != nil {
			httpmw.Error(c, log, err)
			c.Abort()
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// RequireAgent authenticates an agent token and aborts with 401 on
// failure.
func (s *Service) RequireAgent(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.AuthenticateAgent(c.Request.Context(), bearerToken(c))
		if err != nil {
			httpmw.Error(c, log, err)
			c.Abort()
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// RequireActor accepts either credential kind.
func (s *Service) RequireActor(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			httpmw.Error(c, log, err)
			c.Abort()
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor set by the middleware.
func ActorFrom(c *gin.Context) (*Actor, error) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return nil, apperrors.Unauthorized("no authenticated actor")
	}
	actor, ok := value.(*Actor)
	if !ok {
		return nil, apperrors.InternalError("malformed actor context")
	}
	return actor, nil
}
