package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
)

// ErrInvalidCredentials is returned for a wrong client id or secret.
var ErrInvalidCredentials = errors.New("invalid client credentials")

const callbackTokenIssuer = "pact-conformance-harness"

// CallbackClaims are carried by tokens the harness issues to targets.
type CallbackClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// TokenResponse is the client-credentials answer of the harness token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Token       string `json:"token"`
}

// CallbackAuth issues and checks the bearer tokens targets present on the webhook.
type CallbackAuth struct {
	clientID     string
	clientSecret string
	secretKey    []byte
	tokenExpiry  time.Duration
	required     bool
	now          func() time.Time
}

// NewCallbackAuth creates the token service from config.
func NewCallbackAuth(cfg config.CallbackAuthConfig) *CallbackAuth {
	return &CallbackAuth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		secretKey:    []byte(cfg.SigningKey),
		tokenExpiry:  time.Hour,
		required:     cfg.RequireToken,
		now:          time.Now,
	}
}

// Required reports whether the webhook demands a bearer token.
func (a *CallbackAuth) Required() bool { return a.required }

// IssueToken checks the client credentials and signs an HS256 token.
func (a *CallbackAuth) IssueToken(clientID, clientSecret string) (*TokenResponse, error) {
	if subtle.ConstantTimeCompare([]byte(clientID), []byte(a.clientID)) != 1 ||
		subtle.ConstantTimeCompare([]byte(clientSecret), []byte(a.clientSecret)) != 1 {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	claims := &CallbackClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    callbackTokenIssuer,
			Subject:   clientID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.tokenExpiry.Seconds()),
		Token:       signed,
	}, nil
}

// ValidateToken verifies signature, expiry and issuer.
func (a *CallbackAuth) ValidateToken(tokenString string) (*CallbackClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	}, jwt.WithIssuer(callbackTokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims, ok := token.Claims.(*CallbackClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
