package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/satriahrh/cprlink/domain/entities"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// JWTClaims represents the claims in a pairing token
type JWTClaims struct {
	PairingCode string        `json:"pairing_code"`
	Role        entities.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates pairing tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an HS256 issuer
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// GeneratePairingToken generates a token scoped to one pairing code and role
func (i *Issuer) GeneratePairingToken(code string, role entities.Role) (string, time.Time, error) {
	if err := entities.ValidatePairingCode(code); err != nil {
		return "", time.Time{}, err
	}
	if !role.Valid() {
		return "", time.Time{}, entities.ErrInvalidRole
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		PairingCode: code,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   code,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if entities.ValidatePairingCode(claims.PairingCode) != nil || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return ""
}
