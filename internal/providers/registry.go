package providers

import (
	"net/http"

	"github.com/duramation/duramation/pkg/domain"
)

// OAuthConfig describes an OAuth provider and carries its auth handler.
type OAuthConfig struct {
	AuthURL       string
	TokenURL      string
	ScopeCatalog  map[string][]string
	DefaultScopes []string
	Handler       domain.OAuthHandler
}

type APIKeyField struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type APIKeyConfig struct {
	Fields []APIKeyField
}

// Config is the tagged union of provider configurations. Exactly one of OAuth
// and APIKey is set, matching AuthType.
type Config struct {
	Provider domain.Provider
	Name     string
	AuthType domain.ProviderAuthType
	OAuth    *OAuthConfig
	APIKey   *APIKeyConfig
}

// ClientCredentials are the OAuth app credentials for one provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type RegistryOptions struct {
	Google     ClientCredentials
	Slack      ClientCredentials
	Microsoft  ClientCredentials
	HTTPClient *http.Client
}

// Registry is the static provider mapping. Built once at startup, read-only
// thereafter.
type Registry struct {
	configs map[domain.Provider]Config
}

func NewRegistry(opts RegistryOptions) *Registry {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	configs := map[domain.Provider]Config{
		domain.ProviderGoogle: {
			Provider: domain.ProviderGoogle,
			Name:     "Google",
			AuthType: domain.ProviderAuthTypeOAuth,
			OAuth: &OAuthConfig{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
				ScopeCatalog: map[string][]string{
					"gmail": {
						"https://www.googleapis.com/auth/gmail.readonly",
						"https://www.googleapis.com/auth/gmail.send",
						"https://www.googleapis.com/auth/gmail.modify",
					},
					"sheets": {
						"https://www.googleapis.com/auth/spreadsheets",
						"https://www.googleapis.com/auth/drive.readonly",
					},
					"calendar": {
						"https://www.googleapis.com/auth/calendar",
						"https://www.googleapis.com/auth/calendar.events",
					},
					"drive": {
						"https://www.googleapis.com/auth/drive",
						"https://www.googleapis.com/auth/drive.file",
					},
				},
				DefaultScopes: []string{
					"https://www.googleapis.com/auth/userinfo.email",
					"https://www.googleapis.com/auth/userinfo.profile",
				},
				Handler: NewGoogleHandler(opts.Google),
			},
		},
		domain.ProviderSlack: {
			Provider: domain.ProviderSlack,
			Name:     "Slack",
			AuthType: domain.ProviderAuthTypeOAuth,
			OAuth: &OAuthConfig{
				AuthURL:  "https://slack.com/oauth/v2/authorize",
				TokenURL: "https://slack.com/api/oauth.v2.access",
				ScopeCatalog: map[string][]string{
					"bot": {
						"chat:write",
						"chat:write.public",
						"channels:read",
						"channels:manage",
						"users:read",
						"users:read.email",
					},
					"user": {
						"channels:read",
						"channels:write",
						"chat:write",
					},
				},
				DefaultScopes: []string{"chat:write", "channels:read"},
				Handler:       NewSlackHandler(opts.Slack, httpClient),
			},
		},
		domain.ProviderMicrosoft: {
			Provider: domain.ProviderMicrosoft,
			Name:     "Microsoft",
			AuthType: domain.ProviderAuthTypeOAuth,
			OAuth: &OAuthConfig{
				AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
				TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
				ScopeCatalog: map[string][]string{
					"mail": {
						"https://graph.microsoft.com/Mail.Read",
						"https://graph.microsoft.com/Mail.Send",
						"https://graph.microsoft.com/Mail.ReadWrite",
					},
					"calendar": {
						"https://graph.microsoft.com/Calendars.Read",
						"https://graph.microsoft.com/Calendars.ReadWrite",
					},
					"onedrive": {
						"https://graph.microsoft.com/Files.Read",
						"https://graph.microsoft.com/Files.ReadWrite",
					},
				},
				DefaultScopes: []string{
					"https://graph.microsoft.com/User.Read",
					"offline_access",
				},
				Handler: NewMicrosoftHandler(opts.Microsoft),
			},
		},
		domain.ProviderFirecrawl: {
			Provider: domain.ProviderFirecrawl,
			Name:     "Firecrawl",
			AuthType: domain.ProviderAuthTypeAPIKey,
			APIKey: &APIKeyConfig{
				Fields: []APIKeyField{
					{
						Name:        "api_key",
						Label:       "API Key",
						Type:        "password",
						Description: "API key from the Firecrawl dashboard",
					},
				},
			},
		},
	}

	return &Registry{configs: configs}
}

func (r *Registry) Get(provider domain.Provider) (Config, error) {
	config, ok := r.configs[provider]
	if !ok {
		return Config{}, domain.ErrProviderNotFound
	}

	return config, nil
}

// OAuthHandlerFor implements domain.OAuthHandlerResolver.
func (r *Registry) OAuthHandlerFor(provider domain.Provider) (domain.OAuthHandler, error) {
	config, err := r.Get(provider)
	if err != nil {
		return nil, err
	}

	if config.AuthType != domain.ProviderAuthTypeOAuth || config.OAuth == nil {
		return nil, &domain.AuthError{Code: domain.AuthErrorUnsupportedOperation, Provider: provider}
	}

	return config.OAuth.Handler, nil
}

func (r *Registry) Providers() []domain.Provider {
	providers := make([]domain.Provider, 0, len(r.configs))
	for provider := range r.configs {
		providers = append(providers, provider)
	}

	return providers
}
