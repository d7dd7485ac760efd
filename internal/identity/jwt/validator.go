// Package jwt validates access tokens issued by the identity provider.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Validation errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role claim")
)

// Config contains token validation settings. Tokens are HS256 signed with SecretKey.
type Config struct {
	SecretKey string `koanf:"secret_key"`
	// Issuer, when set, must match the iss claim.
	Issuer string `koanf:"issuer"`
	// Leeway tolerates clock skew with the issuer.
	Leeway time.Duration `koanf:"leeway"`
}

// Claims are the access token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role"`
}

// Validator implements httputil.TokenValidator.
type Validator struct {
	config Config
	parser *jwt.Parser
}

// NewValidator creates a new token validator.
func NewValidator(config Config) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &Validator{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken parses token and returns its subject and role.
func (v *Validator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.IsValid() {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}

	return claims.Subject, claims.Role, nil
}

// IssueToken signs an access token for userID. It is used by tests and local tooling;
// production tokens come from the identity provider.
func IssueToken(config Config, userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
