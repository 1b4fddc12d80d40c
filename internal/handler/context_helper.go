package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/middleware"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

// sessionIDFromContext returns the schedule session bound to the browser cookie.
func sessionIDFromContext(c *gin.Context) (string, error) {
	id := middleware.SessionID(c)
	if id == "" {
		return "", appErrors.Clone(appErrors.ErrSessionNotFound, "missing schedule session cookie")
	}
	return id, nil
}
