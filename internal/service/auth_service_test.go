package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

type stubSignInProvider struct {
	initErr     error
	exchangeErr error
	profileErr  error
	expiry      time.Time
	profile     *google.Profile
	lastOpts    int
}

func (p *stubSignInProvider) Initialize(context.Context) error { return p.initErr }

func (p *stubSignInProvider) Exchange(_ context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	p.lastOpts = len(opts)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "google-" + code, Expiry: p.expiry}, nil
}

func (p *stubSignInProvider) Profile(context.Context, *oauth2.Token) (*google.Profile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return p.profile, nil
}

func newAuthFixture(provider *stubSignInProvider) *AuthService {
	return NewAuthService(provider, nil, nil, AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: 2 * time.Hour,
		Issuer:            "dvlab-api",
		AdminEmails:       []string{" Owner@Example.com "},
		SignInRedirectURL: "http://localhost:3000/login/callback",
	})
}

func TestAuthServiceSignIn(t *testing.T) {
	provider := &stubSignInProvider{
		profile: &google.Profile{Email: "owner@example.com", Name: "Owner", Verified: true},
		expiry:  time.Now().Add(30 * time.Minute),
	}
	svc := newAuthFixture(provider)

	resp, err := svc.SignIn(context.Background(), models.GoogleSignInRequest{Code: "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, resp.User.IsAdmin)
	assert.LessOrEqual(t, resp.ExpiresIn, int64(30*60))
	assert.Equal(t, 1, provider.lastOpts)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", claims.Email)
	assert.Equal(t, "google-abc", claims.GoogleAccessToken)
}

func TestAuthServiceSignInValidation(t *testing.T) {
	svc := newAuthFixture(&stubSignInProvider{})

	_, err := svc.SignIn(context.Background(), models.GoogleSignInRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAuthServiceSignInExchangeFailure(t *testing.T) {
	svc := newAuthFixture(&stubSignInProvider{exchangeErr: errors.New("invalid_grant")})

	_, err := svc.SignIn(context.Background(), models.GoogleSignInRequest{Code: "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceSignInProviderNotReady(t *testing.T) {
	svc := newAuthFixture(&stubSignInProvider{initErr: appErrors.ErrProviderLoad})

	_, err := svc.SignIn(context.Background(), models.GoogleSignInRequest{Code: "abc"})
	assert.True(t, errors.Is(err, appErrors.ErrProviderLoad))
}

func TestAuthServiceValidateTokenRejectsExpired(t *testing.T) {
	provider := &stubSignInProvider{profile: &google.Profile{Email: "guest@example.com"}}
	svc := newAuthFixture(provider)

	resp, err := svc.SignIn(context.Background(), models.GoogleSignInRequest{Code: "abc"})
	require.NoError(t, err)
	assert.False(t, resp.User.IsAdmin)
	assert.Equal(t, int64(7200), resp.ExpiresIn)

	svc.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	_, err = svc.ValidateToken(resp.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestAuthServiceMe(t *testing.T) {
	svc := newAuthFixture(&stubSignInProvider{})
	info := svc.Me(&models.JWTClaims{Email: "OWNER@example.com", Name: "Owner"})
	assert.True(t, info.IsAdmin)
	assert.Equal(t, models.UserInfo{}, svc.Me(nil))
}
