package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/mokshitha-y/todosaas/internal/saga"
)

// actor extracts the caller's identity from the bearer token for audit
// attribution and the sagas' ownership checks. The token is NOT verified
// here; verification belongs to the authentication middleware in front of
// this API. The username claim is resolved against the local user table so
// sagas authorize on catalog state, never on token contents.
func (s *Server) actor(c *gin.Context) saga.Actor {
	header := c.GetHeader("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return saga.Actor{Username: "anonymous"}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		zerolog.Ctx(c.Request.Context()).Debug().Err(err).Msg("Unparseable bearer token")
		return saga.Actor{Username: "anonymous"}
	}

	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username, _ = claims["sub"].(string)
	}
	if username == "" {
		return saga.Actor{Username: "anonymous"}
	}

	actor := saga.Actor{Username: username}
	if user, err := s.stores.Users.GetByUsername(c.Request.Context(), username); err == nil {
		actor.ID = user.ID
	}
	return actor
}
