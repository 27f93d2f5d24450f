package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const exposedHeaders = "X-Request-ID, Content-Disposition"

// New returns a CORS middleware for the dashboard origins. An empty list allows every origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && (allowAll || allowed(originSet, origin)):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case origin == "" && allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", exposedHeaders)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func allowed(originSet map[string]struct{}, origin string) bool {
	_, ok := originSet[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}
