package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserInfo describes the signed-in user in responses.
type UserInfo struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// SignInResponse returns the issued app token.
type SignInResponse struct {
	AccessToken string   `json:"accessToken"`
	ExpiresIn   int64    `json:"expiresIn"`
	User        UserInfo `json:"user"`
}

// JWTClaims represents the app JWT payload. GoogleAccessToken carries the
// provider token obtained at sign-in so calendar calls can reuse it.
type JWTClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Picture           string `json:"picture,omitempty"`
	GoogleAccessToken string `json:"gat,omitempty"`
	jwt.RegisteredClaims
}

// GoogleSignInRequest carries an authorization code obtained by the client.
// RedirectURI must match the URI the code was issued for when it differs
// from the configured one.
type GoogleSignInRequest struct {
	Code        string `json:"code" validate:"required"`
	RedirectURI string `json:"redirectUri" validate:"omitempty,url"`
}
