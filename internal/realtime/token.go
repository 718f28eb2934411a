package realtime

import (
	"fmt"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = time.Minute

// TokenIssuer mints short-lived subscription tokens scoped to a single channel
// and an explicit topic list. A token is a capability for reading that channel
// and nothing else.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenIssuer(signingKey string, ttl time.Duration) (*TokenIssuer, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("realtime token signing key is empty")
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenIssuer{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

type subscriptionClaims struct {
	Channel string   `json:"channel"`
	Topics  []string `json:"topics"`
	jwt.RegisteredClaims
}

// Issue mints a token for the given channel. The requester must own the
// channel, only the channel's user may read their own workflow streams.
func (i *TokenIssuer) Issue(requesterUserID string, channel domain.Channel, topics []domain.Topic) (string, error) {
	if requesterUserID == "" || requesterUserID != channel.UserID {
		return "", &domain.AuthError{
			Code: domain.AuthErrorUnauthorized,
			Err:  fmt.Errorf("subscription channel %q is not owned by requester", channel.Name()),
		}
	}

	if len(topics) == 0 {
		topics = []domain.Topic{domain.TopicUpdates, domain.TopicAIStream}
	}

	topicNames := make([]string, 0, len(topics))
	for _, topic := range topics {
		topicNames = append(topicNames, string(topic))
	}

	now := i.now()
	claims := subscriptionClaims{
		Channel: channel.Name(),
		Topics:  topicNames,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requesterUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign subscription token: %w", err)
	}

	return signed, nil
}

// Verify checks that the token is valid, unexpired and scoped to the given
// channel and topic.
func (i *TokenIssuer) Verify(tokenString string, channel domain.Channel, topic domain.Topic) error {
	var claims subscriptionClaims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return i.signingKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return &domain.AuthError{
			Code: domain.AuthErrorUnauthorized,
			Err:  fmt.Errorf("invalid subscription token: %w", err),
		}
	}

	if claims.Channel != channel.Name() {
		return &domain.AuthError{
			Code: domain.AuthErrorUnauthorized,
			Err:  fmt.Errorf("token is not scoped to channel %q", channel.Name()),
		}
	}

	for _, name := range claims.Topics {
		if name == string(topic) {
			return nil
		}
	}

	return &domain.AuthError{
		Code: domain.AuthErrorUnauthorized,
		Err:  fmt.Errorf("token is not scoped to topic %q", topic),
	}
}
