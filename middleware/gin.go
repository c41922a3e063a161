package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/jwt"
)

const claimsKey = "authgate.claims"

// RequireSession aborts with 401 unless the request carries a valid bearer
// session. The claims are stored on both the gin context and the request
// context.
func RequireSession(parser SessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(parser, c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required", "code": "unauthorized"})
			return
		}
		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// RequireRole must run after RequireSession. It aborts with 403 when the
// session role is not one of roles.
func RequireRole(roles ...authgate.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required", "code": "unauthorized"})
			return
		}
		for _, role := range roles {
			if authgate.Role(claims.Role) == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Insufficient permissions", "code": "forbidden"})
	}
}

func ClaimsFromGin(c *gin.Context) (*jwt.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.SessionClaims)
	return claims, ok && claims != nil
}
