package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	"github.com/dvlab/dvlab-api/internal/state"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/security"
)

type scheduleFixture struct {
	svc      *ScheduleService
	provider *stubProvider
	tokens   *countingTokens
	clock    *state.ManualClock
	signer   *security.StateSigner
}

func newScheduleFixture(src google.EventSource) *scheduleFixture {
	clock := state.NewManualClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	provider := &stubProvider{source: src}
	tokens := newCountingTokens()
	signer := security.NewStateSigner("state-secret", 5*time.Minute)
	svc := NewScheduleService(provider, tokens, signer, NewMetricsService(), nil, ScheduleOptions{
		Clock:      clock,
		SessionTTL: time.Hour,
	})
	return &scheduleFixture{svc: svc, provider: provider, tokens: tokens, clock: clock, signer: signer}
}

func week(t *testing.T) google.DateRange {
	t.Helper()
	r, err := google.ParseRange("2024-03-04", "2024-03-10")
	require.NoError(t, err)
	return r
}

func TestInitSessionReplaysStoredToken(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	require.NoError(t, fx.tokens.Save(context.Background(), "sid", "stored-token"))

	snap, err := fx.svc.InitSession(context.Background(), "sid", nil)
	require.NoError(t, err)

	assert.Equal(t, models.SessionAuthorized, snap.State)
	assert.Equal(t, models.AuthModeStoredToken, snap.Mode)
	assert.Equal(t, 1, fx.provider.initCalls)
	assert.Zero(t, fx.provider.authURLCalls)
	assert.Equal(t, []string{"stored-token"}, fx.provider.tokensUsed)
}

func TestInitSessionUsesExternalToken(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.ready = true

	snap, err := fx.svc.InitSession(context.Background(), "sid", &models.JWTClaims{GoogleAccessToken: "from-signin"})
	require.NoError(t, err)

	assert.Equal(t, models.SessionAuthorized, snap.State)
	assert.Equal(t, models.AuthModeExternal, snap.Mode)
	assert.Zero(t, fx.provider.initCalls)
	assert.Equal(t, []string{"from-signin"}, fx.provider.tokensUsed)
}

func TestInitSessionWithoutTokenIsUnauthorized(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.ready = true

	snap, err := fx.svc.InitSession(context.Background(), "sid", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionUnauthorized, snap.State)

	snap, err = fx.svc.InitSession(context.Background(), "sid", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionUnauthorized, snap.State)
}

func TestInitSessionSurfacesProviderFailure(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.initErr = appErrors.Wrap(errors.New("dns"), appErrors.ErrProviderLoad.Code, appErrors.ErrProviderLoad.Status, "failed to load https://example.test/discovery")
	require.NoError(t, fx.tokens.Save(context.Background(), "sid", "stored-token"))

	_, err := fx.svc.InitSession(context.Background(), "sid", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrProviderLoad))

	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	assert.Equal(t, models.SessionUninitialized, snap.State)
	assert.True(t, fx.tokens.has("sid"))
}

func TestRequestAccessTokenBeforeInitSetsTimedAlert(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.initErr = errors.New("still loading")

	var url string
	var err error
	require.NotPanics(t, func() {
		url, err = fx.svc.RequestAccessToken(context.Background(), "sid")
	})
	assert.Empty(t, url)
	assert.True(t, errors.Is(err, appErrors.ErrTokenClientNotReady))

	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	require.NotNil(t, snap.Alert)
	assert.Equal(t, NotReadyAlert, snap.Alert.Message)
	assert.False(t, snap.Alert.Fading)

	fx.clock.Advance(5 * time.Second)
	snap, _ = fx.svc.Snapshot("sid")
	require.NotNil(t, snap.Alert)
	assert.True(t, snap.Alert.Fading)

	fx.clock.Advance(time.Second)
	snap, _ = fx.svc.Snapshot("sid")
	assert.Nil(t, snap.Alert)
}

func TestInteractiveConsentFlow(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil, calendarEvent("1", "Standup")))
	fx.provider.ready = true
	ctx := context.Background()

	_, err := fx.svc.InitSession(ctx, "sid", nil)
	require.NoError(t, err)

	consentURL, err := fx.svc.RequestAccessToken(ctx, "sid")
	require.NoError(t, err)
	assert.Contains(t, consentURL, "state=")
	require.NotEmpty(t, fx.provider.lastState)

	sessionID, err := fx.svc.CompleteConsent(ctx, fx.provider.lastState, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, "sid", sessionID)

	stored, err := fx.tokens.Get(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "issued-abc", stored)

	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthorized, snap.State)
	assert.Equal(t, models.AuthModeInteractive, snap.Mode)

	events, err := fx.svc.FetchEvents(ctx, "sid", week(t), "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCompleteConsentProviderErrorRedirects(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.ready = true
	stateToken, _, err := fx.signer.Sign("sid")
	require.NoError(t, err)

	_, err = fx.svc.CompleteConsent(context.Background(), stateToken, "", "access_denied")
	var redirect *RedirectError
	require.True(t, errors.As(err, &redirect))
	assert.Equal(t, LoginPath, redirect.Redirect)
	assert.False(t, fx.tokens.has("sid"))

	_, err = fx.svc.CompleteConsent(context.Background(), "forged.state", "abc", "")
	require.True(t, errors.As(err, &redirect))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, fx.provider.exchangeCodes)
}

func TestFetchEventsAuthExpiryRemovesTokenAndRedirects(t *testing.T) {
	src := staticSource(&googleapi.Error{Code: http.StatusUnauthorized, Message: "Invalid Credentials"})
	fx := newScheduleFixture(src)
	ctx := context.Background()
	require.NoError(t, fx.tokens.Save(ctx, "sid", "stale-token"))
	_, err := fx.svc.InitSession(ctx, "sid", nil)
	require.NoError(t, err)

	_, err = fx.svc.FetchEvents(ctx, "sid", week(t), "")
	var redirect *RedirectError
	require.True(t, errors.As(err, &redirect))
	assert.Equal(t, "/login", redirect.Redirect)
	assert.True(t, errors.Is(err, appErrors.ErrAuthExpired))
	assert.False(t, fx.tokens.has("sid"))

	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	assert.Equal(t, models.SessionLoggedOut, snap.State)
	assert.False(t, snap.Loading)

	_, err = fx.svc.FetchEvents(ctx, "sid", week(t), "")
	require.True(t, errors.As(err, &redirect))
	assert.Equal(t, "/login", redirect.Redirect)
	assert.Equal(t, 1, fx.tokens.deletes)
	assert.Equal(t, 1, src.calls)
}

func TestFetchEventsNonAuthErrorKeepsToken(t *testing.T) {
	fx := newScheduleFixture(staticSource(&googleapi.Error{Code: http.StatusInternalServerError, Message: "backend"}))
	ctx := context.Background()
	require.NoError(t, fx.tokens.Save(ctx, "sid", "good-token"))
	_, err := fx.svc.InitSession(ctx, "sid", nil)
	require.NoError(t, err)

	_, err = fx.svc.FetchEvents(ctx, "sid", week(t), "")
	require.Error(t, err)
	var redirect *RedirectError
	assert.False(t, errors.As(err, &redirect))
	assert.True(t, errors.Is(err, appErrors.ErrCalendarFetch))

	assert.True(t, fx.tokens.has("sid"))
	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthorized, snap.State)
	require.NotNil(t, snap.Alert)
	assert.False(t, snap.Loading)
}

func TestFetchEventsLatestRequestWins(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := &funcSource{fn: func(ctx context.Context, q google.EventQuery) ([]models.CalendarEvent, error) {
		if q.Q == "A" {
			close(started)
			<-release
			return []models.CalendarEvent{calendarEvent("a", "A")}, nil
		}
		return []models.CalendarEvent{calendarEvent("b", "B")}, nil
	}}
	fx := newScheduleFixture(src)
	ctx := context.Background()
	_, err := fx.svc.InitSession(ctx, "sid", &models.JWTClaims{GoogleAccessToken: "ext"})
	require.NoError(t, err)

	errA := make(chan error, 1)
	go func() {
		_, err := fx.svc.FetchEvents(ctx, "sid", week(t), "A")
		errA <- err
	}()
	<-started

	events, err := fx.svc.FetchEvents(ctx, "sid", week(t), "B")
	require.NoError(t, err)
	require.Len(t, events, 1)

	close(release)
	assert.True(t, errors.Is(<-errA, appErrors.ErrFetchSuperseded))

	snap, err := fx.svc.Snapshot("sid")
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "b", snap.Events[0].ID)
	assert.Equal(t, "B", snap.Summary)
	assert.False(t, snap.Loading)
	assert.Equal(t, uint64(2), snap.Generation)
}

func TestFetchEventsDefaultsToCurrentWeek(t *testing.T) {
	var seen google.EventQuery
	src := &funcSource{fn: func(_ context.Context, q google.EventQuery) ([]models.CalendarEvent, error) {
		seen = q
		return nil, nil
	}}
	fx := newScheduleFixture(src)
	_, err := fx.svc.InitSession(context.Background(), "sid", &models.JWTClaims{GoogleAccessToken: "ext"})
	require.NoError(t, err)

	events, err := fx.svc.FetchEvents(context.Background(), "sid", google.DateRange{}, "")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.Equal(t, "2024-03-04T00:00:00Z", seen.TimeMin)
	assert.Equal(t, "2024-03-11T00:00:00Z", seen.TimeMax)
}

func TestFetchEventsRequiresAuthorizedSession(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.ready = true

	_, err := fx.svc.FetchEvents(context.Background(), "missing", week(t), "")
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))

	_, err = fx.svc.InitSession(context.Background(), "sid", nil)
	require.NoError(t, err)
	_, err = fx.svc.FetchEvents(context.Background(), "sid", week(t), "")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestLogoutDeletesTokenAndSession(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	ctx := context.Background()
	require.NoError(t, fx.tokens.Save(ctx, "sid", "stored-token"))
	_, err := fx.svc.InitSession(ctx, "sid", nil)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Logout(ctx, "sid"))
	assert.False(t, fx.tokens.has("sid"))
	_, err = fx.svc.Snapshot("sid")
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	fx := newScheduleFixture(staticSource(nil))
	fx.provider.ready = true
	ctx := context.Background()

	_, err := fx.svc.InitSession(ctx, "old", nil)
	require.NoError(t, err)
	fx.clock.Advance(50 * time.Minute)
	_, err = fx.svc.InitSession(ctx, "fresh", nil)
	require.NoError(t, err)
	fx.clock.Advance(20 * time.Minute)

	assert.Equal(t, 1, fx.svc.Sweep(fx.clock.Now()))
	_, err = fx.svc.Snapshot("old")
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
	_, err = fx.svc.Snapshot("fresh")
	assert.NoError(t, err)
}

func TestLoggedOutSessionIsReplacedOnInit(t *testing.T) {
	fx := newScheduleFixture(staticSource(&googleapi.Error{Code: http.StatusUnauthorized}))
	ctx := context.Background()
	_, err := fx.svc.InitSession(ctx, "sid", &models.JWTClaims{GoogleAccessToken: "expired"})
	require.NoError(t, err)
	_, err = fx.svc.FetchEvents(ctx, "sid", week(t), "")
	require.Error(t, err)

	fx.provider.ready = true
	snap, err := fx.svc.InitSession(ctx, "sid", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionUnauthorized, snap.State)
	assert.Zero(t, snap.Generation)
}
