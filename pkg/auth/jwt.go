package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity attached to an admitted connection.
type Claims struct {
	UserID      uuid.UUID `json:"-"`
	DisplayName string    `json:"name"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 access tokens.
type JWTManager struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewJWTManager creates a manager signing with the given shared secret.
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{
		secret:   []byte(secret),
		tokenTTL: 15 * time.Minute,
	}
}

// GenerateAccessToken creates a signed access token for a user.
func (m *JWTManager) GenerateAccessToken(userID uuid.UUID, displayName string) (string, error) {
	now := time.Now()
	claims := Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyToken validates a token string and returns its claims.
func (m *JWTManager) VerifyToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims.UserID = userID

	return claims, nil
}
