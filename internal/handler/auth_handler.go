package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/response"
)

type sessionTerminator interface {
	Logout(ctx context.Context, sessionID string) error
}

type identityService interface {
	Me(claims *models.JWTClaims) models.UserInfo
}

// AuthHandler wires logout and identity endpoints.
type AuthHandler struct {
	sessions sessionTerminator
	identity identityService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(sessions sessionTerminator, identity identityService) *AuthHandler {
	return &AuthHandler{sessions: sessions, identity: identity}
}

// Logout godoc
// @Summary Logout current session
// @Description Deletes the persisted calendar token and ends the schedule session
// @Tags Authentication
// @Produce json
// @Success 204
// @Failure 500 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), sid); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Me godoc
// @Summary Get current user
// @Description Returns the signed-in user's info
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, h.identity.Me(claims))
}
