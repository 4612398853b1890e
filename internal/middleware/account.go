package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-sync/internal/state"
)

// AccountMiddleware resolves the acting account for the request. The UI
// selects an account with the X-Account header; without one the registry's
// current account is used. Requests for unregistered accounts are refused.
func AccountMiddleware(registry *state.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.GetHeader("X-Account")
		if account == "" {
			account = registry.Current()
		}
		if account == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no account logged in"})
			return
		}
		if _, ok := registry.Store(account); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not registered"})
			return
		}
		c.Set("account", account)
		c.Next()
	}
}
