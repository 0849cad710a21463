package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IdentityMiddleware trusts the identity header injected by the API gateway
// after it has authenticated the caller. Requests reaching this service
// directly without the header are rejected.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
			})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}
