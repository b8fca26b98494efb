package middleware

import (
	"context"

	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	// longer client supplied ids are replaced
	maxRequestIDLen = 128
)

// RequestID tags every request with an id, reusing the caller's X-Request-ID
// when it is present and reasonable. The id is echoed in the response and
// attached to the request context so logger picks it up.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.New().String()
		}

		c.Header(requestIDHeader, requestID)
		c.Set(requestIDKey, requestID)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestID gets the request ID from gin context
func GetRequestID(c *gin.Context) string {
	if requestID, ok := c.Get(requestIDKey); ok {
		if s, ok := requestID.(string); ok {
			return s
		}
	}
	return ""
}
