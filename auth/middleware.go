package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// RequireUser rejects requests without a valid bearer token and stores the
// caller's id in the gin context.
func RequireUser(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the caller established by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
