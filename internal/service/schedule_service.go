package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	"github.com/dvlab/dvlab-api/internal/state"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/security"
)

// NotReadyAlert is shown when consent is requested before the token client exists.
const NotReadyAlert = "Token client not initialized! Wait 5 sec..."

type calendarProvider interface {
	Initialize(ctx context.Context) error
	Ready() bool
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	WithToken(ctx context.Context, token string) (google.EventSource, error)
	WithBearer(token string) google.EventSource
}

// ScheduleOptions tunes session lifetimes and alert timings.
type ScheduleOptions struct {
	Clock        state.Clock
	SessionTTL   time.Duration
	AlertVisible time.Duration
	AlertFade    time.Duration
	InitTimeout  time.Duration
}

// ScheduleService keeps one schedule session per browser and drives token
// acquisition, event fetching and failure handling for it.
type ScheduleService struct {
	provider    calendarProvider
	tokens      TokenRepository
	signer      *security.StateSigner
	coordinator *SessionCoordinator
	metrics     *MetricsService
	logger      *zap.Logger
	clock       state.Clock
	storeOpts   []state.Option
	sessionTTL  time.Duration
	initTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*ScheduleSession
}

// NewScheduleService constructs the service.
func NewScheduleService(provider calendarProvider, tokens TokenRepository, signer *security.StateSigner, metrics *MetricsService, logger *zap.Logger, opts ScheduleOptions) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 15 * time.Second
	}
	return &ScheduleService{
		provider:    provider,
		tokens:      tokens,
		signer:      signer,
		coordinator: NewSessionCoordinator(tokens, metrics, logger),
		metrics:     metrics,
		logger:      logger,
		clock:       clock,
		storeOpts:   []state.Option{state.WithClock(clock), state.WithAlertTimings(opts.AlertVisible, opts.AlertFade)},
		sessionTTL:  opts.SessionTTL,
		initTimeout: opts.InitTimeout,
		sessions:    make(map[string]*ScheduleSession),
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) state.Timer { return time.AfterFunc(d, f) }

// InitSession prepares the session of a browser. A provider token carried by
// claims is used directly. Otherwise a persisted token is replayed after the
// provider client is initialized. Without either the session is Unauthorized
// and waits for interactive consent.
func (s *ScheduleService) InitSession(ctx context.Context, sessionID string, claims *models.JWTClaims) (models.ScheduleSnapshot, error) {
	sess := s.session(sessionID, true)

	sess.mu.Lock()
	current := sess.state
	sess.touchLocked(s.clock.Now())
	sess.mu.Unlock()
	if current == models.SessionAuthorized {
		return sess.Snapshot(), nil
	}

	if claims != nil && claims.GoogleAccessToken != "" {
		if err := s.authorize(sess, models.AuthModeExternal, s.provider.WithBearer(claims.GoogleAccessToken)); err != nil {
			return models.ScheduleSnapshot{}, err
		}
		return sess.Snapshot(), nil
	}

	token, err := s.tokens.Get(ctx, sessionID)
	switch {
	case err == nil && token != "":
		if err := s.provider.Initialize(ctx); err != nil {
			s.logger.Error("provider initialization failed", zap.String("session_id", sessionID), zap.Error(err))
			return models.ScheduleSnapshot{}, err
		}
		src, err := s.provider.WithToken(ctx, token)
		if err != nil {
			return models.ScheduleSnapshot{}, err
		}
		if err := s.authorize(sess, models.AuthModeStoredToken, src); err != nil {
			return models.ScheduleSnapshot{}, err
		}
		s.metrics.RecordTokenEvent("replayed")
		return sess.Snapshot(), nil
	case err != nil && !errors.Is(err, appErrors.ErrTokenNotFound):
		s.logger.Warn("stored token unavailable", zap.String("session_id", sessionID), zap.Error(err))
	}

	sess.mu.Lock()
	if sess.state == models.SessionUninitialized {
		s.moveLocked(sess, models.SessionUnauthorized)
	}
	sess.mu.Unlock()
	s.warmUp()
	return sess.Snapshot(), nil
}

// RequestAccessToken returns the consent URL for an interactive grant. Before
// the token client exists it sets the timed alert and returns
// ErrTokenClientNotReady.
func (s *ScheduleService) RequestAccessToken(ctx context.Context, sessionID string) (string, error) {
	sess := s.session(sessionID, true)
	if !s.provider.Ready() {
		sess.Store().SetAlert(NotReadyAlert)
		s.warmUp()
		return "", appErrors.ErrTokenClientNotReady
	}
	stateToken, _, err := s.signer.Sign(sessionID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign consent state")
	}
	return s.provider.AuthCodeURL(stateToken)
}

// CompleteConsent finishes the interactive flow: it validates state, exchanges
// the code, persists the token and authorizes the session. Provider errors
// come back as a RedirectError pointing at the login page.
func (s *ScheduleService) CompleteConsent(ctx context.Context, stateToken, code, providerErr string) (string, error) {
	sessionID, err := s.signer.Verify(stateToken)
	if err != nil {
		return "", &RedirectError{
			Err:      appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid or expired consent state"),
			Redirect: LoginPath,
		}
	}
	if providerErr != "" || code == "" {
		msg := "consent was not granted"
		if providerErr != "" {
			msg = "consent failed: " + providerErr
		}
		return sessionID, &RedirectError{Err: appErrors.Clone(appErrors.ErrUnauthorized, msg), Redirect: LoginPath}
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed", zap.String("session_id", sessionID), zap.Error(err))
		return sessionID, &RedirectError{
			Err:      appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "authorization code exchange failed"),
			Redirect: LoginPath,
		}
	}
	if err := s.tokens.Save(ctx, sessionID, token.AccessToken); err != nil {
		return sessionID, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist token")
	}
	s.metrics.RecordTokenEvent("saved")

	src, err := s.provider.WithToken(ctx, token.AccessToken)
	if err != nil {
		return sessionID, err
	}
	sess := s.session(sessionID, true)
	if err := s.authorize(sess, models.AuthModeInteractive, src); err != nil {
		return sessionID, err
	}
	return sessionID, nil
}

// FetchEvents loads the events of r for the session, filtered by summary.
// Every call supersedes the previous one: the older call is cancelled and its
// result discarded with ErrFetchSuperseded.
func (s *ScheduleService) FetchEvents(ctx context.Context, sessionID string, r google.DateRange, summary string) ([]models.CalendarEvent, error) {
	sess := s.session(sessionID, false)
	if sess == nil {
		return nil, appErrors.ErrSessionNotFound
	}
	if r.IsZero() {
		r = google.CurrentWeek(s.clock.Now())
	}

	sess.mu.Lock()
	switch {
	case sess.state == models.SessionLoggedOut:
		sess.mu.Unlock()
		return nil, &RedirectError{Err: appErrors.ErrAuthExpired, Redirect: LoginPath}
	case sess.state != models.SessionAuthorized || sess.source == nil:
		sess.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "schedule session is not authorized")
	}
	sess.generation++
	gen := sess.generation
	if sess.cancel != nil {
		sess.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	src, mode := sess.source, sess.mode
	sess.touchLocked(s.clock.Now())
	sess.store.SetLoading(true)
	sess.mu.Unlock()
	defer cancel()

	started := time.Now()
	events, err := google.FetchEvents(fetchCtx, src, r, summary)
	elapsed := time.Since(started)

	sess.mu.Lock()
	if sess.generation != gen {
		sess.mu.Unlock()
		s.metrics.ObserveCalendarFetch(mode, FetchOutcomeSuperseded, elapsed)
		return nil, appErrors.ErrFetchSuperseded
	}
	sess.cancel = nil
	if err == nil {
		sess.events = events
		sess.dateRange = r
		sess.summary = summary
		sess.updatedAt = time.Now().UTC()
	}
	sess.store.SetLoading(false)
	sess.mu.Unlock()

	if err == nil {
		s.metrics.ObserveCalendarFetch(mode, FetchOutcomeOK, elapsed)
		return events, nil
	}

	outcome := s.coordinator.HandleFailure(ctx, sess, err)
	if outcome.Redirect != "" {
		s.metrics.ObserveCalendarFetch(mode, FetchOutcomeAuthExpired, elapsed)
		return nil, &RedirectError{
			Err:      appErrors.Wrap(err, appErrors.ErrAuthExpired.Code, appErrors.ErrAuthExpired.Status, appErrors.ErrAuthExpired.Message),
			Redirect: outcome.Redirect,
		}
	}
	s.metrics.ObserveCalendarFetch(mode, FetchOutcomeError, elapsed)
	return nil, err
}

// Snapshot returns the visible state of a session.
func (s *ScheduleService) Snapshot(sessionID string) (models.ScheduleSnapshot, error) {
	sess := s.session(sessionID, false)
	if sess == nil {
		return models.ScheduleSnapshot{}, appErrors.ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// Subscribe streams store updates (loading and alert) of a session.
func (s *ScheduleService) Subscribe(sessionID string) (<-chan state.Snapshot, func(), error) {
	sess := s.session(sessionID, false)
	if sess == nil {
		return nil, nil, appErrors.ErrSessionNotFound
	}
	ch, cancel := sess.Store().Subscribe()
	return ch, cancel, nil
}

// Logout deletes the persisted token and discards the session.
func (s *ScheduleService) Logout(ctx context.Context, sessionID string) error {
	if err := s.tokens.Delete(ctx, sessionID); err != nil && !errors.Is(err, appErrors.ErrTokenNotFound) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete token")
	}
	s.metrics.RecordTokenEvent("deleted")
	s.remove(sessionID)
	return nil
}

// Sweep discards sessions idle for longer than the session TTL and returns how many were removed.
func (s *ScheduleService) Sweep(now time.Time) int {
	s.mu.Lock()
	var stale []*ScheduleSession
	for id, sess := range s.sessions {
		if now.Sub(sess.idleSince()) > s.sessionTTL {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range stale {
		sess.close()
	}
	s.metrics.SetActiveSessions(active)
	if len(stale) > 0 {
		s.logger.Info("swept idle schedule sessions", zap.Int("removed", len(stale)), zap.Int("active", active))
	}
	return len(stale)
}

// Ready reports whether the provider token client is usable.
func (s *ScheduleService) Ready() bool {
	return s.provider.Ready()
}

// session returns the session for id, creating it when create is set. A
// LoggedOut session is terminal, so it is replaced by a fresh one.
func (s *ScheduleService) session(id string, create bool) *ScheduleSession {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok && (!create || sess.State() != models.SessionLoggedOut) {
		return sess
	}
	if !create {
		return nil
	}

	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok && existing.State() != models.SessionLoggedOut {
		s.mu.Unlock()
		return existing
	}
	old := s.sessions[id]
	sess = newScheduleSession(id, state.New(s.storeOpts...), s.clock.Now())
	s.sessions[id] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	s.metrics.SetActiveSessions(active)
	return sess
}

func (s *ScheduleService) remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	active := len(s.sessions)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
	s.metrics.SetActiveSessions(active)
}

func (s *ScheduleService) authorize(sess *ScheduleSession, mode models.AuthMode, src google.EventSource) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	from := sess.state
	if err := sess.authorizeLocked(mode, src); err != nil {
		return err
	}
	s.metrics.RecordSessionTransition(from, models.SessionAuthorized)
	s.logger.Info("schedule session authorized", zap.String("session_id", sess.id), zap.String("mode", string(mode)))
	return nil
}

func (s *ScheduleService) moveLocked(sess *ScheduleSession, next models.SessionState) {
	from := sess.state
	if err := sess.transitionLocked(next); err != nil {
		s.logger.Error("unexpected session transition", zap.Error(err))
		return
	}
	s.metrics.RecordSessionTransition(from, next)
}

// warmUp starts provider initialization in the background when it has not
// completed yet. Initialize serializes concurrent callers.
func (s *ScheduleService) warmUp() {
	if s.provider.Ready() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.initTimeout)
		defer cancel()
		if err := s.provider.Initialize(ctx); err != nil {
			s.logger.Warn("background provider initialization failed", zap.Error(err))
		}
	}()
}
