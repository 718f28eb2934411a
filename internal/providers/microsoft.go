package providers

import (
	"context"
	"errors"
	"slices"

	"github.com/duramation/duramation/pkg/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// MicrosoftHandler implements the OAuth capability for Microsoft identity
// platform (common tenant).
type MicrosoftHandler struct {
	creds ClientCredentials
}

func NewMicrosoftHandler(creds ClientCredentials) *MicrosoftHandler {
	return &MicrosoftHandler{creds: creds}
}

func (h *MicrosoftHandler) oauthConfig(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.creds.ClientID,
		ClientSecret: h.creds.ClientSecret,
		RedirectURL:  h.creds.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint("common"),
		Scopes:       scopes,
	}
}

// withOfflineAccess ensures the offline_access scope is requested so Microsoft
// returns a refresh token.
func withOfflineAccess(scopes []string) []string {
	if slices.Contains(scopes, "offline_access") {
		return scopes
	}

	return append(append([]string{}, scopes...), "offline_access")
}

func (h *MicrosoftHandler) AuthURL(scopes []string, state string) (string, error) {
	if err := validateClientCredentials(domain.ProviderMicrosoft, h.creds); err != nil {
		return "", err
	}

	return h.oauthConfig(withOfflineAccess(scopes)).AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (h *MicrosoftHandler) Exchange(ctx context.Context, code string) (domain.SecretPayload, error) {
	if err := validateClientCredentials(domain.ProviderMicrosoft, h.creds); err != nil {
		return domain.SecretPayload{}, err
	}

	token, err := h.oauthConfig(nil).Exchange(ctx, code)
	if err != nil {
		return domain.SecretPayload{}, mapOAuth2Error(domain.ProviderMicrosoft, err)
	}

	if token.AccessToken == "" || token.Expiry.IsZero() {
		return domain.SecretPayload{}, &domain.AuthError{
			Code:     domain.AuthErrorInvalidCode,
			Provider: domain.ProviderMicrosoft,
			Err:      errors.New("incomplete token data from Microsoft"),
		}
	}

	// Microsoft may omit the refresh token on re-authorization; the credential
	// is still stored and simply cannot be refreshed.
	return domain.SecretPayload{
		OAuth: &domain.OAuthSecret{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry.UTC(),
			Scopes:       grantedScopes(token),
		},
	}, nil
}

func (h *MicrosoftHandler) Refresh(ctx context.Context, refreshToken string) (domain.RefreshedToken, error) {
	if err := validateClientCredentials(domain.ProviderMicrosoft, h.creds); err != nil {
		return domain.RefreshedToken{}, err
	}

	source := h.oauthConfig(nil).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return domain.RefreshedToken{}, mapOAuth2Error(domain.ProviderMicrosoft, err)
	}

	if token.AccessToken == "" || token.Expiry.IsZero() {
		return domain.RefreshedToken{}, &domain.AuthError{
			Code:     domain.AuthErrorProviderUnavailable,
			Provider: domain.ProviderMicrosoft,
			Err:      errors.New("failed to refresh access token"),
		}
	}

	return domain.RefreshedToken{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry.Unix(),
	}, nil
}
