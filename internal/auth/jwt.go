package auth

import (
	"errors"
	"fmt"
	"time"

	"invoice-engine/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tolerated clock skew between the back office and this service.
const clockSkew = 30 * time.Second

var (
	ErrWrongTokenType  = errors.New("auth: wrong token type")
	ErrMissingIdentity = errors.New("auth: token carries no user or role")
)

// Manager signs and verifies HS256 tokens shared with the back office.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair signs an access and a refresh token for the same identity.
// branch is empty for admins.
func (m *Manager) IssuePair(now time.Time, userID, branch, role string) (TokenPair, error) {
	id := Claims{UserID: userID, Branch: branch, Role: role}

	var pair TokenPair
	var err error
	if pair.AccessToken, err = m.sign(now, id, TokenTypeAccess, m.accessTTL); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = m.sign(now, id, TokenTypeRefresh, m.refreshTTL); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair carrying the same
// identity.
func (m *Manager) Refresh(refreshToken string, now time.Time) (TokenPair, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	return m.IssuePair(now, claims.UserID, claims.Branch, claims.Role)
}

// Verify checks signature, expiry, issuer and audience as of now, then the
// token type and identity claims.
func (m *Manager) Verify(raw string, want TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, m.key, opts...); err != nil {
		return Claims{}, fmt.Errorf("auth: %w", err)
	}
	switch {
	case claims.TokenType != want:
		return Claims{}, ErrWrongTokenType
	case claims.UserID == "" || claims.Role == "":
		return Claims{}, ErrMissingIdentity
	}
	return claims, nil
}

func (m *Manager) key(*jwt.Token) (any, error) { return m.secret, nil }

func (m *Manager) sign(now time.Time, id Claims, typ TokenType, ttl time.Duration) (string, error) {
	claims := id
	claims.TokenType = typ
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
