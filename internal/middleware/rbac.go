package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/response"
)

// AdminChecker decides whether an email belongs to an administrator.
type AdminChecker interface {
	IsAdmin(email string) bool
}

// AdminOnly must run after JWT. It rejects users outside the admin allowlist.
func AdminOnly(checker AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !checker.IsAdmin(claims.Email) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "admin access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the caller holds admin rights. Routes using
// OptionalJWT call it to widen their results.
func IsAdmin(c *gin.Context, checker AdminChecker) bool {
	claims := ClaimsFromContext(c)
	return claims != nil && checker.IsAdmin(claims.Email)
}
