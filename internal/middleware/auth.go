package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"finrep/internal/auth"
)

const (
	ContextKeySubject = "subject"
	ContextKeyClaims  = "claims"
)

// TokenValidator verifies a bearer token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthMiddleware returns Gin middleware that validates JWT tokens and injects the caller
// subject into the context.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "missing or invalid authorization header"},
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "invalid or expired token"},
			})
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetSubject extracts the authenticated subject from the Gin context.
func GetSubject(c *gin.Context) string {
	val, exists := c.Get(ContextKeySubject)
	if !exists {
		return ""
	}
	return val.(string)
}
