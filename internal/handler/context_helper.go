package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/auth"
	"github.com/noah-isme/school-admin-api/internal/middleware"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
	"github.com/noah-isme/school-admin-api/pkg/response"
)

// requireSession returns the request session or writes 401 and returns nil.
func requireSession(c *gin.Context) *auth.Session {
	sess, ok := auth.FromContext(c.Request.Context())
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil
	}
	return sess
}

func withMeta(c *gin.Context) map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return meta
}
