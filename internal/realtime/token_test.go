package realtime

import (
	"testing"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()

	issuer, err := NewTokenIssuer("test-signing-key", time.Minute)
	require.NoError(t, err)

	return issuer
}

func TestTokenIssuer_IssueRequiresChannelOwnership(t *testing.T) {
	issuer := newTestIssuer(t)
	channel := domain.ChannelFor("user-1", "wf-1")

	_, err := issuer.Issue("user-2", channel, nil)
	require.Error(t, err)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthErrorUnauthorized, authErr.Code)
}

func TestTokenIssuer_VerifyScopesToChannel(t *testing.T) {
	issuer := newTestIssuer(t)

	owned := domain.ChannelFor("user-a", "wf-1")
	token, err := issuer.Issue("user-a", owned, []domain.Topic{domain.TopicUpdates})
	require.NoError(t, err)

	require.NoError(t, issuer.Verify(token, owned, domain.TopicUpdates))

	tests := []struct {
		name    string
		channel domain.Channel
		topic   domain.Topic
	}{
		{
			name:    "other user's channel for the same workflow",
			channel: domain.ChannelFor("user-b", "wf-1"),
			topic:   domain.TopicUpdates,
		},
		{
			name:    "same user, different workflow",
			channel: domain.ChannelFor("user-a", "wf-2"),
			topic:   domain.TopicUpdates,
		},
		{
			name:    "topic outside the token's scope",
			channel: owned,
			topic:   domain.TopicAIStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := issuer.Verify(token, tt.channel, tt.topic)
			require.Error(t, err)

			var authErr *domain.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, domain.AuthErrorUnauthorized, authErr.Code)
		})
	}
}

func TestTokenIssuer_DefaultTopicsCoverBoth(t *testing.T) {
	issuer := newTestIssuer(t)
	channel := domain.ChannelFor("user-a", "wf-1")

	token, err := issuer.Issue("user-a", channel, nil)
	require.NoError(t, err)

	assert.NoError(t, issuer.Verify(token, channel, domain.TopicUpdates))
	assert.NoError(t, issuer.Verify(token, channel, domain.TopicAIStream))
}

func TestTokenIssuer_VerifyRejectsExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t)

	issuedAt := time.Now()
	issuer.now = func() time.Time { return issuedAt }

	channel := domain.ChannelFor("user-a", "wf-1")
	token, err := issuer.Issue("user-a", channel, []domain.Topic{domain.TopicUpdates})
	require.NoError(t, err)

	issuer.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }

	err = issuer.Verify(token, channel, domain.TopicUpdates)
	require.Error(t, err)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthErrorUnauthorized, authErr.Code)
}

func TestTokenIssuer_VerifyRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t)

	other, err := NewTokenIssuer("another-signing-key", time.Minute)
	require.NoError(t, err)

	channel := domain.ChannelFor("user-a", "wf-1")
	token, err := other.Issue("user-a", channel, []domain.Topic{domain.TopicUpdates})
	require.NoError(t, err)

	require.Error(t, issuer.Verify(token, channel, domain.TopicUpdates))
}
