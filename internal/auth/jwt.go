package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims holds JWT claims for operator accounts and renderer modules.
type Claims struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate creates a new JWT for an operator account.
func (s *JWTService) Generate(accountID uuid.UUID, email, role string) (string, error) {
	return s.sign(accountID, email, role, time.Duration(s.expireHours)*time.Hour)
}

// GenerateModule creates a long-lived token for a renderer module. The
// subject names the module so connections are attributable in logs.
func (s *JWTService) GenerateModule(moduleName string, ttl time.Duration) (string, error) {
	claims := Claims{
		AccountID: uuid.New(),
		Role:      "module",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   moduleName,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) sign(accountID uuid.UUID, email, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateModule accepts only tokens carrying the module role. Used by the
// WebSocket upgrade handler.
func (s *JWTService) ValidateModule(tokenString string) error {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return err
	}
	if claims.Role != "module" {
		return ErrInvalidToken
	}
	return nil
}
