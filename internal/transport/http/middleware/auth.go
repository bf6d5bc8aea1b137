package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"textbook-rag/internal/pkg/jwtutil"
	"textbook-rag/internal/transport/http/response"
)

const ContextOwnerKey = "owner_ref"

// OptionalOwner attaches the token subject as the caller's owner reference.
// Requests without a token proceed anonymously; a bad token is rejected.
func OptionalOwner(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present || secret == "" {
			c.Next()
			return
		}
		if !ok {
			abortUnauthorized(c, "invalid authorization scheme")
			return
		}
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ContextOwnerKey, claims.Subject)
		c.Next()
	}
}

// RequireAdmin admits only tokens carrying role. With no secret configured
// the admin surface is closed.
func RequireAdmin(secret, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin api disabled")
			c.Abort()
			return
		}
		token, present, ok := bearerToken(c)
		if !present {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		if !ok {
			abortUnauthorized(c, "invalid authorization scheme")
			return
		}
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		if !claims.HasRole(role) {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin role required")
			c.Abort()
			return
		}
		c.Set(ContextOwnerKey, claims.Subject)
		c.Next()
	}
}

// OwnerRef returns the authenticated caller, or nil for anonymous requests.
func OwnerRef(c *gin.Context) *string {
	v, ok := c.Get(ContextOwnerKey)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func bearerToken(c *gin.Context) (token string, present, ok bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return "", false, false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", true, false
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)), true, true
}

func abortUnauthorized(c *gin.Context, msg string) {
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
	c.Abort()
}
