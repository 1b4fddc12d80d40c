package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
)

// LoginPath is where clients go after their provider authorization expired.
const LoginPath = "/login"

const fetchFailedAlert = "Could not load calendar events. Please try again."

// TokenRepository persists provider access tokens per browser session.
type TokenRepository interface {
	Get(ctx context.Context, sessionID string) (string, error)
	Save(ctx context.Context, sessionID, token string) error
	Delete(ctx context.Context, sessionID string) error
}

// Outcome tells the caller how a failure was handled.
type Outcome struct {
	// Redirect is set when the client must navigate away, e.g. to the login page.
	Redirect    string
	AuthExpired bool
}

// RedirectError carries a failure whose handling requires navigation.
type RedirectError struct {
	Err      error
	Redirect string
}

func (e *RedirectError) Error() string {
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// SessionCoordinator classifies fetch and initialization failures. Only an
// authorization expiry mutates the session: the stored token is removed and
// the session ends in LoggedOut. Everything else is logged and surfaced.
type SessionCoordinator struct {
	tokens  TokenRepository
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSessionCoordinator constructs the coordinator.
func NewSessionCoordinator(tokens TokenRepository, metrics *MetricsService, logger *zap.Logger) *SessionCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCoordinator{tokens: tokens, metrics: metrics, logger: logger}
}

// HandleFailure reacts to err on behalf of sess. Repeated auth failures are
// idempotent: the token is deleted and the state moves only once, yet every
// call reports the redirect.
func (c *SessionCoordinator) HandleFailure(ctx context.Context, sess *ScheduleSession, err error) Outcome {
	if err == nil {
		return Outcome{}
	}
	log := c.logger.With(zap.String("session_id", sess.ID()))

	if !google.IsAuthExpired(err) {
		if errors.Is(err, context.Canceled) {
			return Outcome{}
		}
		log.Warn("calendar request failed", zap.Error(err))
		sess.Store().SetAlert(fetchFailedAlert)
		return Outcome{}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == models.SessionAuthorized {
		sess.dropCredentialLocked()
		if delErr := c.tokens.Delete(ctx, sess.id); delErr != nil {
			log.Error("failed to delete expired token", zap.Error(delErr))
		} else {
			c.metrics.RecordTokenEvent("deleted")
		}
		c.move(sess, models.SessionUnauthorized, log)
		log.Info("provider authorization expired")
	}
	if sess.state == models.SessionUnauthorized {
		c.move(sess, models.SessionLoggedOut, log)
	}
	return Outcome{Redirect: LoginPath, AuthExpired: true}
}

func (c *SessionCoordinator) move(sess *ScheduleSession, next models.SessionState, log *zap.Logger) {
	from := sess.state
	if err := sess.transitionLocked(next); err != nil {
		log.Error("unexpected session transition", zap.Error(err))
		return
	}
	c.metrics.RecordSessionTransition(from, next)
}
