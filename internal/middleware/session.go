package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dvlab/dvlab-api/pkg/logger"
)

// SessionIDKey holds the browser session id. It is the field the request logger reads.
const SessionIDKey = logger.SessionField

// SessionCookie identifies the browser across requests with an opaque
// cookie, issuing a new id when the cookie is missing or malformed.
func SessionCookie(name string, secure bool, maxAge time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(name)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		// Refresh on every request so active sessions do not expire.
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    id,
			Path:     "/",
			MaxAge:   int(maxAge.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set(SessionIDKey, id)
		c.Next()
	}
}

// SessionID returns the id assigned by SessionCookie.
func SessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
