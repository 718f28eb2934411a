package secrets

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	codec, err := NewCodec(masterKey)
	require.NoError(t, err)

	return codec
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload domain.SecretPayload
	}{
		{
			name: "oauth with refresh token",
			payload: domain.SecretPayload{
				OAuth: &domain.OAuthSecret{
					AccessToken:  "ya29.access",
					RefreshToken: "1//refresh",
					ExpiresAt:    expiry,
					Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
				},
			},
		},
		{
			name: "oauth with provider metadata",
			payload: domain.SecretPayload{
				OAuth: &domain.OAuthSecret{
					AccessToken: "xoxb-slack",
					Scopes:      []string{"chat:write"},
					Metadata:    map[string]any{"team_id": "T123", "team_name": "acme"},
				},
			},
		},
		{
			name: "api key",
			payload: domain.SecretPayload{
				APIKey: &domain.APIKeySecret{APIKey: "fc-abc123"},
			},
		},
		{
			name: "api key with extras",
			payload: domain.SecretPayload{
				APIKey: &domain.APIKeySecret{
					APIKey: "key",
					Extra:  map[string]string{"api_url": "https://api.example.com"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := codec.Encrypt(tt.payload)
			require.NoError(t, err)
			assert.NotContains(t, blob, "access")

			var decrypted domain.SecretPayload
			require.NoError(t, codec.Decrypt(blob, &decrypted))
			assert.Equal(t, tt.payload, decrypted)
		})
	}
}

func TestCodec_TamperedBlobFails(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encrypt(domain.SecretPayload{
		APIKey: &domain.APIKeySecret{APIKey: "fc-abc123"},
	})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	var out domain.SecretPayload
	err = codec.Decrypt(tampered, &out)
	assert.ErrorIs(t, err, domain.ErrCodec)
}

func TestCodec_MalformedBlobFails(t *testing.T) {
	codec := newTestCodec(t)

	var out domain.SecretPayload

	assert.ErrorIs(t, codec.Decrypt("not base64!!", &out), domain.ErrCodec)
	assert.ErrorIs(t, codec.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), &out), domain.ErrCodec)
}

func TestCodec_DifferentKeysCannotDecrypt(t *testing.T) {
	first := newTestCodec(t)
	second := newTestCodec(t)

	blob, err := first.Encrypt(domain.SecretPayload{
		APIKey: &domain.APIKeySecret{APIKey: "secret"},
	})
	require.NoError(t, err)

	var out domain.SecretPayload
	assert.ErrorIs(t, second.Decrypt(blob, &out), domain.ErrCodec)
}

func TestNewCodec_InvalidKey(t *testing.T) {
	_, err := NewCodec("not-a-key")
	assert.ErrorIs(t, err, domain.ErrCodec)

	_, err = NewCodec(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.ErrorIs(t, err, domain.ErrCodec)
}
