package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
)

// WithResponseMeta initialises response metadata storage on the request context.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
		meta := ensureMeta(c)
		if _, exists := meta["processing_time_ms"]; !exists {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit records whether the report view came from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitKey, hit)
}

// SetMeta records a metadata value for the current response.
func SetMeta(c *gin.Context, key string, value interface{}) {
	ensureMeta(c)[key] = value
}

// ExtractMeta returns the metadata map stored on the context.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
