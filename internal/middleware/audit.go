package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/models"
)

// Audit logs successful requests as admin actions. The resource id is read
// from the :id path parameter when present.
func Audit(logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		entry := models.AuditEntry{
			Action:     action,
			Resource:   resource,
			ResourceID: c.Param("id"),
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			Status:     c.Writer.Status(),
			Latency:    time.Since(start),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		}
		if claims := ClaimsFromContext(c); claims != nil {
			entry.Actor = claims.Email
		}

		logger.Info("admin action",
			zap.String("actor", entry.Actor),
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.String("resource_id", entry.ResourceID),
			zap.String("method", entry.Method),
			zap.String("path", entry.Path),
			zap.Int("status", entry.Status),
			zap.Duration("latency", entry.Latency),
			zap.String("ip", entry.IPAddress),
			zap.String("user_agent", entry.UserAgent),
		)
	}
}
