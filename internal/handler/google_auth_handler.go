package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/response"
)

type consentService interface {
	RequestAccessToken(ctx context.Context, sessionID string) (string, error)
	CompleteConsent(ctx context.Context, stateToken, code, providerErr string) (string, error)
	Snapshot(sessionID string) (models.ScheduleSnapshot, error)
}

type signInService interface {
	SignIn(ctx context.Context, req models.GoogleSignInRequest) (*models.SignInResponse, error)
}

// ConsentRedirects are the browser destinations after the OAuth callback.
type ConsentRedirects struct {
	App   string
	Login string
}

// GoogleAuthHandler drives the Google consent and sign-in flows.
type GoogleAuthHandler struct {
	consent   consentService
	signIn    signInService
	redirects ConsentRedirects
	logger    *zap.Logger
}

// NewGoogleAuthHandler constructs the handler.
func NewGoogleAuthHandler(consent consentService, signIn signInService, redirects ConsentRedirects, logger *zap.Logger) *GoogleAuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redirects.App == "" {
		redirects.App = "/schedule"
	}
	if redirects.Login == "" {
		redirects.Login = "/login"
	}
	return &GoogleAuthHandler{consent: consent, signIn: signIn, redirects: redirects, logger: logger}
}

// Consent godoc
// @Summary Request calendar access
// @Description Redirects to the Google consent screen. Responds 503 with an alert while the token client is not initialized.
// @Tags Authentication
// @Produce json
// @Success 302
// @Failure 503 {object} response.Envelope
// @Router /auth/google/consent [get]
func (h *GoogleAuthHandler) Consent(c *gin.Context) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	target, err := h.consent.RequestAccessToken(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenClientNotReady) {
			var meta map[string]interface{}
			if snap, snapErr := h.consent.Snapshot(sid); snapErr == nil && snap.Alert != nil {
				meta = map[string]interface{}{"alert": snap.Alert}
			}
			response.ErrorWithMeta(c, err, meta)
			return
		}
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Callback godoc
// @Summary OAuth callback
// @Description Exchanges the authorization code, persists the token and returns to the schedule page
// @Tags Authentication
// @Param state query string true "Signed state"
// @Param code query string false "Authorization code"
// @Param error query string false "Provider error"
// @Success 302
// @Router /auth/google/callback [get]
func (h *GoogleAuthHandler) Callback(c *gin.Context) {
	_, err := h.consent.CompleteConsent(c.Request.Context(), c.Query("state"), c.Query("code"), c.Query("error"))
	if err != nil {
		appErr := appErrors.FromError(err)
		h.logger.Warn("consent callback failed", zap.String("code", appErr.Code), zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(h.redirects.Login, "error", appErr.Code))
		return
	}
	c.Redirect(http.StatusFound, h.redirects.App)
}

// SignIn godoc
// @Summary Sign in with Google
// @Description Exchanges an authorization code for an app JWT
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.GoogleSignInRequest true "Authorization code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/google/signin [post]
func (h *GoogleAuthHandler) SignIn(c *gin.Context) {
	var req models.GoogleSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sign-in payload"))
		return
	}
	res, err := h.signIn.SignIn(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
