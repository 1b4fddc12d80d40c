package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	"github.com/dvlab/dvlab-api/internal/service"
	"github.com/dvlab/dvlab-api/internal/state"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/response"
)

type scheduleService interface {
	InitSession(ctx context.Context, sessionID string, claims *models.JWTClaims) (models.ScheduleSnapshot, error)
	Snapshot(sessionID string) (models.ScheduleSnapshot, error)
	Subscribe(sessionID string) (<-chan state.Snapshot, func(), error)
	FetchEvents(ctx context.Context, sessionID string, r google.DateRange, summary string) ([]models.CalendarEvent, error)
}

// ScheduleHandler exposes the weekly schedule view.
type ScheduleHandler struct {
	service scheduleService
	now     func() time.Time
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(svc scheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc, now: time.Now}
}

// InitSession godoc
// @Summary Initialize schedule session
// @Description Replays a stored or signed-in credential; otherwise the session stays unauthorized
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /schedule/session [post]
func (h *ScheduleHandler) InitSession(c *gin.Context) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	snap, err := h.service.InitSession(c.Request.Context(), sid, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap)
}

// State godoc
// @Summary Current schedule state
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule/state [get]
func (h *ScheduleHandler) State(c *gin.Context) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	snap, err := h.service.Snapshot(sid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap)
}

// Events godoc
// @Summary Fetch calendar events
// @Description Fetches events of the primary calendar. Without bounds the current Monday to Sunday week is used.
// @Tags Schedule
// @Produce json
// @Param start query string false "First day (YYYY-MM-DD)"
// @Param end query string false "Last day, inclusive (YYYY-MM-DD)"
// @Param summary query string false "Case-insensitive summary filter"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedule/events [get]
func (h *ScheduleHandler) Events(c *gin.Context) {
	sid, events, ok := h.fetch(c)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(sid)
	if err != nil {
		response.Error(c, err)
		return
	}
	snap.Events = events
	response.JSON(c, http.StatusOK, snap)
}

// EventsICS godoc
// @Summary Export calendar events
// @Tags Schedule
// @Produce text/calendar
// @Param start query string false "First day (YYYY-MM-DD)"
// @Param end query string false "Last day, inclusive (YYYY-MM-DD)"
// @Param summary query string false "Case-insensitive summary filter"
// @Success 200 {string} string
// @Failure 401 {object} response.Envelope
// @Router /schedule/events.ics [get]
func (h *ScheduleHandler) EventsICS(c *gin.Context) {
	_, events, ok := h.fetch(c)
	if !ok {
		return
	}
	body, err := service.RenderICS(events, h.now())
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render calendar"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="schedule.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// Stream godoc
// @Summary Stream loading and alert changes
// @Tags Schedule
// @Produce text/event-stream
// @Success 200 {string} string
// @Failure 404 {object} response.Envelope
// @Router /schedule/state/stream [get]
func (h *ScheduleHandler) Stream(c *gin.Context) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	updates, cancel, err := h.service.Subscribe(sid)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("state", gin.H{"loading": snap.Loading, "alert": snap.Alert})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *ScheduleHandler) fetch(c *gin.Context) (string, []models.CalendarEvent, bool) {
	sid, err := sessionIDFromContext(c)
	if err != nil {
		response.Error(c, err)
		return "", nil, false
	}
	r, err := google.ParseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error()))
		return "", nil, false
	}
	events, err := h.service.FetchEvents(c.Request.Context(), sid, r, c.Query("summary"))
	if err != nil {
		respondWithRedirect(c, err)
		return "", nil, false
	}
	return sid, events, true
}

// respondWithRedirect adds meta.redirect when the failure asks for navigation.
func respondWithRedirect(c *gin.Context, err error) {
	var redirect *service.RedirectError
	if errors.As(err, &redirect) {
		response.ErrorWithRedirect(c, redirect.Err, redirect.Redirect)
		return
	}
	response.Error(c, err)
}
