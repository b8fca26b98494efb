package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 with the same error body the
// API uses elsewhere
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"kind":       "internal",
					"request_id": GetRequestID(c),
				})
			}
		}()

		c.Next()
	}
}
