package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	metaKey      = "response_meta"
	metaStartKey = "response_meta_start"
	cacheHitKey  = "cache_hit"
)

// WithResponseMeta stamps the request start so handlers can report
// processing_time_ms in the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(metaStartKey, time.Now())
		c.Next()
	}
}

// SetMeta records a response metadata value for the current request.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if c == nil {
		return
	}
	meta, _ := c.Get(metaKey)
	typed, ok := meta.(map[string]interface{})
	if !ok {
		typed = make(map[string]interface{})
		c.Set(metaKey, typed)
	}
	typed[key] = value
}

// SetCacheHit records whether the payload was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitKey, hit)
}

// ExtractMeta returns a copy of the recorded metadata with the elapsed
// processing time, or nil when nothing was recorded.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta, _ := c.Get(metaKey)
	typed, ok := meta.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(typed)+1)
	for k, v := range typed {
		out[k] = v
	}
	if start, ok := c.Get(metaStartKey); ok {
		if ts, ok := start.(time.Time); ok {
			out["processing_time_ms"] = time.Since(ts).Milliseconds()
		}
	}
	return out
}
