// Package auth issues and validates the bearer tokens that authorize
// manual poll cycle triggers.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenExpiry is how long trigger tokens are valid.
	DefaultTokenExpiry = 24 * time.Hour

	// DefaultIssuer and DefaultAudience scope tokens to the worker.
	DefaultIssuer   = "slotwatch"
	DefaultAudience = "slotwatch-worker"

	// ScopeTrigger allows starting a poll cycle.
	ScopeTrigger = "cycles:trigger"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid trigger token")
	ErrTokenExpired = errors.New("trigger token has expired")
	ErrMissingScope = errors.New("trigger token lacks required scope")
	ErrEmptyKey     = errors.New("signing key is empty")
)

// Claims are the claims carried by a trigger token.
type Claims struct {
	jwt.RegisteredClaims

	// Scope lists the operations the bearer may perform.
	Scope []string `json:"scope"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenConfig holds configuration for the TokenService.
type TokenConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	Expiry     time.Duration

	// Now overrides the clock (optional).
	Now func() time.Time
}

// TokenService signs and validates HS256 trigger tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.SigningKey == "" {
		return nil, ErrEmptyKey
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     cfg.Expiry,
		now:        cfg.Now,
	}, nil
}

// Generate issues a token for subject carrying scopes.
func (s *TokenService) Generate(subject string, scopes ...string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Scope: scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing trigger token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and checks signature, issuer, audience and expiry.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateTokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
