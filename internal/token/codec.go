// Package token implements the signed-credential codec. Tokens are compact
// HS256 JWTs carrying subject, issue/expiry times and a type discriminator;
// access and refresh tokens use independent secrets.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/inkroom/inkroom-api/internal/models"
)

// Verification failures. Callers treat all three identically (reject) but
// log them distinctly.
var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrWrongType        = errors.New("token: wrong type")
)

// Config carries the codec parameters, normally sourced from pkg/config.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      []string
}

// Codec signs and verifies access/refresh token pairs.
type Codec struct {
	cfg Config
}

// NewCodec constructs a Codec.
func NewCodec(cfg Config) *Codec {
	return &Codec{cfg: cfg}
}

// AccessTTL exposes the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// RefreshTTL exposes the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// SignAccess mints a short-lived access token embedding the primary role so
// authorization decisions need no store round-trip.
func (c *Codec) SignAccess(subject string, role models.Role) (string, error) {
	return c.sign(subject, role, models.TokenTypeAccess, c.cfg.AccessSecret, c.cfg.AccessTTL)
}

// SignRefresh mints a long-lived refresh token. It carries the subject only;
// a role claim on a refresh token is never trusted, so none is written.
func (c *Codec) SignRefresh(subject string) (string, error) {
	return c.sign(subject, "", models.TokenTypeRefresh, c.cfg.RefreshSecret, c.cfg.RefreshTTL)
}

// sign mints a token. Every token gets a unique jti: timestamps have second
// granularity, and session rotation requires the successor's hash to differ
// from its predecessor's.
func (c *Codec) sign(subject string, role models.Role, typ models.TokenType, secret string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &models.AccessClaims{
		Role:      role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.cfg.Issuer,
			Subject:   subject,
			Audience:  c.cfg.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyAccess parses and validates an access token.
func (c *Codec) VerifyAccess(raw string) (*models.AccessClaims, error) {
	return c.verify(raw, models.TokenTypeAccess, c.cfg.AccessSecret)
}

// VerifyRefresh parses and validates a refresh token.
func (c *Codec) VerifyRefresh(raw string) (*models.AccessClaims, error) {
	return c.verify(raw, models.TokenTypeRefresh, c.cfg.RefreshSecret)
}

func (c *Codec) verify(raw string, expected models.TokenType, secret string) (*models.AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &models.AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}

	claims, ok := parsed.Claims.(*models.AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.TokenType != expected {
		return nil, ErrWrongType
	}

	return claims, nil
}

// NewSingleUseToken returns a fresh random token in hex form. Only its hash
// is ever persisted; the raw value goes out of band exactly once.
func NewSingleUseToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken derives the storage form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
