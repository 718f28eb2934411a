package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/slack-go/slack"
)

// SlackHandler implements the OAuth capability for Slack (OAuth v2). Slack bot
// tokens do not expire, so Refresh is unsupported.
type SlackHandler struct {
	creds      ClientCredentials
	httpClient *http.Client
}

func NewSlackHandler(creds ClientCredentials, httpClient *http.Client) *SlackHandler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &SlackHandler{creds: creds, httpClient: httpClient}
}

func (h *SlackHandler) AuthURL(scopes []string, state string) (string, error) {
	if err := validateClientCredentials(domain.ProviderSlack, h.creds); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("client_id", h.creds.ClientID)
	params.Set("scope", strings.Join(scopes, ","))
	params.Set("state", state)
	params.Set("redirect_uri", h.creds.RedirectURL)

	return "https://slack.com/oauth/v2/authorize?" + params.Encode(), nil
}

func (h *SlackHandler) Exchange(ctx context.Context, code string) (domain.SecretPayload, error) {
	if err := validateClientCredentials(domain.ProviderSlack, h.creds); err != nil {
		return domain.SecretPayload{}, err
	}

	response, err := slack.GetOAuthV2ResponseContext(ctx, h.httpClient, h.creds.ClientID, h.creds.ClientSecret, code, h.creds.RedirectURL)
	if err != nil {
		return domain.SecretPayload{}, &domain.AuthError{
			Code:     domain.AuthErrorInvalidCode,
			Provider: domain.ProviderSlack,
			Err:      err,
		}
	}

	if response.AccessToken == "" {
		return domain.SecretPayload{}, &domain.AuthError{
			Code:     domain.AuthErrorInvalidCode,
			Provider: domain.ProviderSlack,
			Err:      errors.New("incomplete token data from Slack"),
		}
	}

	metadata := map[string]any{
		"team_id":    response.Team.ID,
		"team_name":  response.Team.Name,
		"token_type": response.TokenType,
	}
	if response.BotUserID != "" {
		metadata["bot_user_id"] = response.BotUserID
	}

	var scopes []string
	if response.Scope != "" {
		scopes = strings.Split(response.Scope, ",")
	}

	return domain.SecretPayload{
		OAuth: &domain.OAuthSecret{
			AccessToken: response.AccessToken,
			Scopes:      scopes,
			Metadata:    metadata,
		},
	}, nil
}

func (h *SlackHandler) Refresh(ctx context.Context, refreshToken string) (domain.RefreshedToken, error) {
	return domain.RefreshedToken{}, &domain.AuthError{
		Code:     domain.AuthErrorUnsupportedOperation,
		Provider: domain.ProviderSlack,
		Err:      errors.New("slack tokens do not support refresh"),
	}
}
