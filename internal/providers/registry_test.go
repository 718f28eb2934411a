package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(RegistryOptions{
		Google:    ClientCredentials{ClientID: "google-id", ClientSecret: "google-secret", RedirectURL: "https://app.example.com/api/credentials/oauth/callback?provider=GOOGLE"},
		Slack:     ClientCredentials{ClientID: "slack-id", ClientSecret: "slack-secret", RedirectURL: "https://app.example.com/api/credentials/oauth/callback?provider=SLACK"},
		Microsoft: ClientCredentials{ClientID: "ms-id", ClientSecret: "ms-secret", RedirectURL: "https://app.example.com/api/credentials/oauth/microsoft/callback"},
	})
}

func TestRegistry_Get(t *testing.T) {
	registry := newTestRegistry()

	tests := []struct {
		provider domain.Provider
		authType domain.ProviderAuthType
	}{
		{domain.ProviderGoogle, domain.ProviderAuthTypeOAuth},
		{domain.ProviderSlack, domain.ProviderAuthTypeOAuth},
		{domain.ProviderMicrosoft, domain.ProviderAuthTypeOAuth},
		{domain.ProviderFirecrawl, domain.ProviderAuthTypeAPIKey},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			config, err := registry.Get(tt.provider)
			require.NoError(t, err)
			assert.Equal(t, tt.authType, config.AuthType)

			if tt.authType == domain.ProviderAuthTypeOAuth {
				require.NotNil(t, config.OAuth)
				assert.NotNil(t, config.OAuth.Handler)
				assert.NotEmpty(t, config.OAuth.DefaultScopes)
				assert.Nil(t, config.APIKey)
			} else {
				require.NotNil(t, config.APIKey)
				assert.NotEmpty(t, config.APIKey.Fields)
				assert.Nil(t, config.OAuth)
			}
		})
	}

	_, err := registry.Get(domain.Provider("HUBSPOT"))
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistry_OAuthHandlerFor(t *testing.T) {
	registry := newTestRegistry()

	handler, err := registry.OAuthHandlerFor(domain.ProviderGoogle)
	require.NoError(t, err)
	assert.NotNil(t, handler)

	_, err = registry.OAuthHandlerFor(domain.ProviderFirecrawl)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthErrorUnsupportedOperation, authErr.Code)
}

func TestGoogleHandler_AuthURL(t *testing.T) {
	registry := newTestRegistry()

	handler, err := registry.OAuthHandlerFor(domain.ProviderGoogle)
	require.NoError(t, err)

	state := "c3RhdGU"
	rawURL, err := handler.AuthURL([]string{"https://www.googleapis.com/auth/gmail.send"}, state)
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "accounts.google.com", parsed.Host)
	assert.Equal(t, state, query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "consent", query.Get("prompt"))
	assert.Equal(t, "google-id", query.Get("client_id"))
	assert.Contains(t, query.Get("scope"), "gmail.send")
}

func TestMicrosoftHandler_AuthURL_AppendsOfflineAccess(t *testing.T) {
	registry := newTestRegistry()

	handler, err := registry.OAuthHandlerFor(domain.ProviderMicrosoft)
	require.NoError(t, err)

	rawURL, err := handler.AuthURL([]string{"https://graph.microsoft.com/Mail.Send"}, "s1")
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Contains(t, query.Get("scope"), "offline_access")
	assert.Equal(t, "query", query.Get("response_mode"))
	assert.Equal(t, "s1", query.Get("state"))

	// offline_access must not be duplicated when already requested
	rawURL, err = handler.AuthURL([]string{"offline_access"}, "s2")
	require.NoError(t, err)

	parsed, err = url.Parse(rawURL)
	require.NoError(t, err)
	assert.Equal(t, "offline_access", parsed.Query().Get("scope"))
}

func TestSlackHandler_AuthURL_CommaJoinsScopes(t *testing.T) {
	registry := newTestRegistry()

	handler, err := registry.OAuthHandlerFor(domain.ProviderSlack)
	require.NoError(t, err)

	rawURL, err := handler.AuthURL([]string{"chat:write", "channels:read"}, "st")
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	assert.Equal(t, "slack.com", parsed.Host)
	assert.Equal(t, "chat:write,channels:read", parsed.Query().Get("scope"))
	assert.Equal(t, "st", parsed.Query().Get("state"))
}

func TestSlackHandler_RefreshUnsupported(t *testing.T) {
	registry := newTestRegistry()

	handler, err := registry.OAuthHandlerFor(domain.ProviderSlack)
	require.NoError(t, err)

	_, err = handler.Refresh(context.Background(), "some-token")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthErrorUnsupportedOperation, authErr.Code)
	assert.Equal(t, domain.ProviderSlack, authErr.Provider)
}

func TestAuthURL_MissingClientCredentials(t *testing.T) {
	registry := NewRegistry(RegistryOptions{})

	handler, err := registry.OAuthHandlerFor(domain.ProviderGoogle)
	require.NoError(t, err)

	_, err = handler.AuthURL(nil, "s")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthErrorProviderUnavailable, authErr.Code)
}

func TestState_RoundTrip(t *testing.T) {
	encoded, err := EncodeState(State{UserID: "user-1", WorkflowID: "wf-1"})
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, "user-1", decoded.UserID)
	assert.Equal(t, "wf-1", decoded.WorkflowID)

	_, err = DecodeState("%%%not-base64%%%")
	assert.Error(t, err)

	empty, err := EncodeState(State{})
	require.NoError(t, err)
	_, err = DecodeState(empty)
	assert.Error(t, err)
}

func TestFirecrawlKeyValidator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.Header.Get("Authorization"), "valid-key") {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	validator := NewFirecrawlKeyValidator(server.Client())
	validator.url = server.URL

	valid, err := validator.Validate(context.Background(), "valid-key")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = validator.Validate(context.Background(), "bogus")
	require.NoError(t, err)
	assert.False(t, valid)

	server.Close()
	_, err = validator.Validate(context.Background(), "valid-key")
	assert.Error(t, err)
}
