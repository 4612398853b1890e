package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDContextKey = "request_id"
	accountContextKey   = "account"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func accountFromContext(c *gin.Context) string {
	if val, ok := c.Get(accountContextKey); ok {
		if account, ok := val.(string); ok {
			return account
		}
	}
	return c.GetHeader("X-Account")
}
