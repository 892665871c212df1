// Package auth issues and validates the bearer tokens that guard the HTTP API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenExpiry is the lifetime of tokens minted by GenerateToken
const DefaultTokenExpiry = 30 * 24 * time.Hour

// DefaultLeeway for token validation
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptySubject is returned when minting a token without a subject
	ErrEmptySubject = errors.New("subject cannot be empty")
)

// Claims carries the device or host that submits events
type Claims struct {
	jwt.RegisteredClaims
	Device string `json:"device,omitempty"`
}

// JWTService signs and validates HS256 tokens
type JWTService struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewJWTService creates a JWTService with the given secret
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		leeway: DefaultLeeway,
		now:    time.Now,
	}
}

// GenerateToken creates a token for subject valid for ttl (DefaultTokenExpiry when ttl <= 0)
func (s *JWTService) GenerateToken(subject, device string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Device: device,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a token, returning its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
