package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/pkg/response"
)

type sessionCloser interface {
	Remove(userID string) bool
}

type permissionCache interface {
	InvalidateUser(ctx context.Context, userID string)
}

// AuthHandler tears down server-side state on sign-out. Tokens themselves are issued
// and revoked by the hosted auth provider.
type AuthHandler struct {
	sessions sessionCloser
	perms    permissionCache
	logger   *zap.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(sessions sessionCloser, perms permissionCache, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{sessions: sessions, perms: perms, logger: logger}
}

// SignOut godoc
// @Summary Sign out
// @Description Closes the report session and drops cached permissions of the caller.
// @Tags Auth
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /auth/sign-out [post]
func (h *AuthHandler) SignOut(c *gin.Context) {
	sess := requireSession(c)
	if sess == nil {
		return
	}
	h.sessions.Remove(sess.UserID)
	h.perms.InvalidateUser(c.Request.Context(), sess.UserID)
	h.logger.Info("user signed out", zap.String("user_id", sess.UserID))
	response.NoContent(c)
}
