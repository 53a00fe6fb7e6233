package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"veritrace-system/internal/utils"
)

// Context keys set by JWTAuth for downstream handlers.
const (
	CtxUserID       = "user_id"
	CtxUsername     = "username"
	CtxEnterpriseID = "enterprise_id"
)

// JWTAuth rejects requests without a valid bearer token and resolves the
// actor once: handlers read user/enterprise ids from the gin context instead
// of re-parsing the token.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header must be a bearer token",
			})
			return
		}

		claims, err := utils.ParseToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
			})
			return
		}

		c.Set(CtxUserID, claims.UserId)
		c.Set(CtxUsername, claims.Username)
		c.Set(CtxEnterpriseID, claims.EnterpriseId)
		c.Next()
	}
}
