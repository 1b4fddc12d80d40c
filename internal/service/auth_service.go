package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

type signInProvider interface {
	Initialize(ctx context.Context) error
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	Profile(ctx context.Context, token *oauth2.Token) (*google.Profile, error)
}

// AuthConfig defines configuration for the app session tokens.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
	AdminEmails       []string
	SignInRedirectURL string
}

// AuthService signs users in with Google and issues app JWTs. The JWT keeps
// the provider access token so calendar calls can reuse the sign-in grant.
type AuthService struct {
	provider  signInProvider
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	admins    map[string]struct{}
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(provider signInProvider, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = time.Hour
	}
	admins := make(map[string]struct{}, len(config.AdminEmails))
	for _, email := range config.AdminEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &AuthService{provider: provider, validator: validate, logger: logger, config: config, admins: admins, now: time.Now}
}

// SignIn exchanges an authorization code, reads the Google profile and
// returns a signed app token.
func (s *AuthService) SignIn(ctx context.Context, req models.GoogleSignInRequest) (*models.SignInResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sign-in payload")
	}
	if err := s.provider.Initialize(ctx); err != nil {
		return nil, err
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = s.config.SignInRedirectURL
	}
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	token, err := s.provider.Exchange(ctx, req.Code, opts...)
	if err != nil {
		s.logger.Warn("google sign-in exchange failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "google sign-in failed")
	}
	profile, err := s.provider.Profile(ctx, token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "failed to read google profile")
	}
	if profile.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "google account has no email")
	}

	signed, ttl, err := s.generateAccessToken(profile, token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}

	s.logger.Info("user signed in", zap.String("email", profile.Email))
	return &models.SignInResponse{
		AccessToken: signed,
		ExpiresIn:   int64(ttl / time.Second),
		User: models.UserInfo{
			Email:   profile.Email,
			Name:    profile.Name,
			Picture: profile.Picture,
			IsAdmin: s.IsAdmin(profile.Email),
		},
	}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// IsAdmin reports whether email may edit the wishlist.
func (s *AuthService) IsAdmin(email string) bool {
	_, ok := s.admins[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Me describes the holder of claims.
func (s *AuthService) Me(claims *models.JWTClaims) models.UserInfo {
	if claims == nil {
		return models.UserInfo{}
	}
	return models.UserInfo{
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
		IsAdmin: s.IsAdmin(claims.Email),
	}
}

// generateAccessToken never outlives the embedded provider token.
func (s *AuthService) generateAccessToken(profile *google.Profile, providerToken *oauth2.Token) (string, time.Duration, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	if !providerToken.Expiry.IsZero() && providerToken.Expiry.Before(expiresAt) {
		expiresAt = providerToken.Expiry.UTC()
	}

	claims := &models.JWTClaims{
		Email:             profile.Email,
		Name:              profile.Name,
		Picture:           profile.Picture,
		GoogleAccessToken: providerToken.AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   profile.Email,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, expiresAt.Sub(issuedAt), nil
}
