package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/earthring/terrain/internal/config"
)

// Claims represents JWT claims structure
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"` // "viewer" or "operator"
}

// JWTService issues and validates the tokens that guard the chunk API and
// the mesh stream
type JWTService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTService creates a new JWT service with configuration
func NewJWTService(cfg *config.Config) *JWTService {
	issuer := cfg.Auth.Issuer
	if issuer == "" {
		issuer = "terrain-server"
	}
	return &JWTService{
		secret: []byte(cfg.Auth.JWTSecret),
		expiry: cfg.Auth.JWTExpiration,
		issuer: issuer,
	}
}

// GenerateToken issues a token for subject with the given role
func (s *JWTService) GenerateToken(subject, role string) (*TokenResponse, error) {
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		Subject:   subject,
		Role:      role,
	}, nil
}

// ValidateToken validates a token and returns its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("invalid token role %q", claims.Role)
	}

	return claims, nil
}

// TokenExpiration returns the lifetime of issued tokens
func (s *JWTService) TokenExpiration() time.Duration {
	return s.expiry
}
