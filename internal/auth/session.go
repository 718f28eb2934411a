package auth

import (
	"fmt"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/golang-jwt/jwt/v5"
)

// SessionManager issues and verifies dashboard session tokens. The subject
// claim carries the user id.
type SessionManager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewSessionManager(signingKey string, ttl time.Duration) (*SessionManager, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("session signing key is empty")
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &SessionManager{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

func (m *SessionManager) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}

	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}

// VerifyToken returns the user id for a valid session token.
func (m *SessionManager) VerifyToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return m.signingKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", &domain.AuthError{
			Code: domain.AuthErrorUnauthorized,
			Err:  fmt.Errorf("invalid session token: %w", err),
		}
	}

	return claims.Subject, nil
}
