package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrap-pickup-api/logger"
	"scrap-pickup-api/models"
)

const actorKey = "actor"

// TokenResolver looks up the user holding a bearer token.
type TokenResolver interface {
	ResolveByToken(ctx context.Context, token string) (models.User, error)
}

// Authenticate resolves an "Authorization: Bearer <token>" header into an
// actor. Requests without the header pass through anonymously; a header with
// an unknown token is rejected.
func Authenticate(resolver TokenResolver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header must be Bearer <token>")
			return
		}
		user, err := resolver.ResolveByToken(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(actorKey, user)
			c.Next()
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnauthorized):
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or unknown token")
		case errors.Is(err, models.ErrTimeout):
			abort(c, http.StatusServiceUnavailable, "TIMEOUT", "Backend timed out, retry later")
		default:
			logger.FromContext(c, log).Error("token resolution failed", zap.Error(err))
			abort(c, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
		}
	}
}

// AuthRequired rejects requests that carry no valid bearer token.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetActor(c); !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required (Bearer <token>)")
			return
		}
		c.Next()
	}
}

// RoleRequired enforces that the caller acts with one of the allowed roles.
func RoleRequired(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required (Bearer <token>)")
			return
		}
		role := actor.EffectiveRole()
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "Access denied. Required role(s): "+rolesString(roles))
	}
}

func rolesString(roles []models.UserRole) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

// GetActor returns the authenticated user, if any.
func GetActor(c *gin.Context) (models.User, bool) {
	val, ok := c.Get(actorKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
