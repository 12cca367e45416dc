package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingSecret means a signing secret was not configured.
	ErrMissingSecret = errors.New("token signing secret is not configured")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("token invalid")
)

// TokenType distinguishes the two token legs inside the claims.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims carried by both token types.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Token is a signed value and the moment it stops verifying.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Config holds codec settings.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// Codec issues and verifies HS256 tokens. Access and refresh tokens are
// signed with different secrets so neither verifies as the other.
type Codec struct {
	cfg Config
	now func() time.Time
}

func NewCodec(cfg Config) *Codec {
	return &Codec{cfg: cfg, now: time.Now}
}

func (c *Codec) IssueAccess(subject string) (Token, error) {
	return c.issue(TokenAccess, subject, c.cfg.AccessSecret, c.cfg.AccessExpiry)
}

func (c *Codec) IssueRefresh(subject string) (Token, error) {
	return c.issue(TokenRefresh, subject, c.cfg.RefreshSecret, c.cfg.RefreshExpiry)
}

func (c *Codec) VerifyAccess(value string) (*Claims, error) {
	return c.verify(TokenAccess, value, c.cfg.AccessSecret)
}

func (c *Codec) VerifyRefresh(value string) (*Claims, error) {
	return c.verify(TokenRefresh, value, c.cfg.RefreshSecret)
}

// AccessExpiry is the configured access-token lifetime.
func (c *Codec) AccessExpiry() time.Duration { return c.cfg.AccessExpiry }

// RefreshExpiry is the configured refresh-token lifetime.
func (c *Codec) RefreshExpiry() time.Duration { return c.cfg.RefreshExpiry }

func (c *Codec) issue(typ TokenType, subject, secret string, ttl time.Duration) (Token, error) {
	if secret == "" {
		return Token{}, fmt.Errorf("issue %s token: %w", typ, ErrMissingSecret)
	}

	now := c.now().UTC()
	exp := jwt.NewNumericDate(now.Add(ttl))
	claims := &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			// Unique per token so two pairs minted in the same second differ.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Token{Value: signed, ExpiresAt: exp.Time}, nil
}

func (c *Codec) verify(typ TokenType, value, secret string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("verify %s token: %w", typ, ErrMissingSecret)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("verify %s token: %w", typ, ErrTokenExpired)
	case err != nil:
		return nil, fmt.Errorf("verify %s token: %w: %v", typ, ErrTokenInvalid, err)
	}

	if claims.Type != typ || claims.Subject == "" {
		return nil, fmt.Errorf("verify %s token: %w: wrong token type", typ, ErrTokenInvalid)
	}
	return claims, nil
}
