package domain

import "context"

type Provider string

const (
	ProviderGoogle    Provider = "GOOGLE"
	ProviderSlack     Provider = "SLACK"
	ProviderMicrosoft Provider = "MICROSOFT"
	ProviderFirecrawl Provider = "FIRECRAWL"
)

type ProviderAuthType string

const (
	ProviderAuthTypeOAuth  ProviderAuthType = "OAUTH"
	ProviderAuthTypeAPIKey ProviderAuthType = "API_KEY"
)

// AuthType returns the auth type a provider uses. The empty string marks an
// unknown provider.
func (p Provider) AuthType() ProviderAuthType {
	switch p {
	case ProviderGoogle, ProviderSlack, ProviderMicrosoft:
		return ProviderAuthTypeOAuth
	case ProviderFirecrawl:
		return ProviderAuthTypeAPIKey
	default:
		return ""
	}
}

// RefreshedToken is the result of a successful token refresh against a provider.
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   int64 // unix seconds
}

// OAuthHandler is the capability every OAuth provider implements. Implementations
// are independent structs selected by registry lookup.
type OAuthHandler interface {
	// AuthURL builds the provider authorization URL. The state string is embedded
	// unmodified so the callback can recover it.
	AuthURL(scopes []string, state string) (string, error)

	// Exchange trades an authorization code for tokens. Codes are single use; a
	// retried exchange surfaces the provider's invalid-grant error.
	Exchange(ctx context.Context, code string) (SecretPayload, error)

	// Refresh obtains a new access token. Providers whose tokens never expire
	// return AuthError with CodeUnsupportedOperation.
	Refresh(ctx context.Context, refreshToken string) (RefreshedToken, error)
}

// OAuthHandlerResolver resolves the auth handler for an OAuth provider.
type OAuthHandlerResolver interface {
	OAuthHandlerFor(provider Provider) (OAuthHandler, error)
}
