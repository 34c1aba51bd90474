// Package middleware provides HTTP middleware for the API.
//
// Go Pattern: Middleware in Gin is a gin.HandlerFunc that calls c.Next() to
// continue the chain, or c.Abort() to stop processing.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const viewerContextKey contextKey = "viewer_id"

// Authenticate returns middleware that requires a valid JWT bearer token.
// The token's user_id claim becomes the request's viewer id.
func Authenticate(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Missing or invalid Authorization header. Use 'Bearer <token>'")
			return
		}

		claims, err := ParseToken(strings.TrimPrefix(authHeader, "Bearer "), jwtSecret)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(string(viewerContextKey), claims.UserID)
		c.Next()
	}
}

// GetViewer returns the authenticated viewer id, or "" outside the
// authenticated route group.
func GetViewer(c *gin.Context) string {
	return c.GetString(string(viewerContextKey))
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: message,
		Code:    http.StatusUnauthorized,
	})
}
