package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/auth"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
	"github.com/noah-isme/school-admin-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the resolved session.
const ContextSessionKey = "session"

type sessionResolver interface {
	Resolve(ctx context.Context, token string) (*auth.Session, error)
}

// Authenticate requires a valid bearer token and attaches the session to the request context.
func Authenticate(resolver sessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		sess, err := resolver.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, sess)
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))
		c.Next()
	}
}

// RequirePermission lets the request through only when the session holds every named permission.
func RequirePermission(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := auth.FromContext(c.Request.Context())
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !sess.Has(names...) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "missing permission "+strings.Join(names, ", ")))
			c.Abort()
			return
		}
		c.Next()
	}
}
