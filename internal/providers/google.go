package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duramation/duramation/pkg/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleHandler implements the OAuth capability for Google. Authorization
// always requests offline access so a refresh token is issued.
type GoogleHandler struct {
	creds ClientCredentials
}

func NewGoogleHandler(creds ClientCredentials) *GoogleHandler {
	return &GoogleHandler{creds: creds}
}

func (h *GoogleHandler) oauthConfig(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.creds.ClientID,
		ClientSecret: h.creds.ClientSecret,
		RedirectURL:  h.creds.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

func (h *GoogleHandler) AuthURL(scopes []string, state string) (string, error) {
	if err := validateClientCredentials(domain.ProviderGoogle, h.creds); err != nil {
		return "", err
	}

	// prompt=consent forces Google to return a refresh token on every grant.
	return h.oauthConfig(scopes).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (h *GoogleHandler) Exchange(ctx context.Context, code string) (domain.SecretPayload, error) {
	if err := validateClientCredentials(domain.ProviderGoogle, h.creds); err != nil {
		return domain.SecretPayload{}, err
	}

	token, err := h.oauthConfig(nil).Exchange(ctx, code)
	if err != nil {
		return domain.SecretPayload{}, mapOAuth2Error(domain.ProviderGoogle, err)
	}

	if token.AccessToken == "" || token.RefreshToken == "" || token.Expiry.IsZero() {
		return domain.SecretPayload{}, &domain.AuthError{
			Code:     domain.AuthErrorInvalidCode,
			Provider: domain.ProviderGoogle,
			Err:      errors.New("incomplete token data from Google"),
		}
	}

	return domain.SecretPayload{
		OAuth: &domain.OAuthSecret{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry.UTC(),
			Scopes:       grantedScopes(token),
		},
	}, nil
}

func (h *GoogleHandler) Refresh(ctx context.Context, refreshToken string) (domain.RefreshedToken, error) {
	if err := validateClientCredentials(domain.ProviderGoogle, h.creds); err != nil {
		return domain.RefreshedToken{}, err
	}

	source := h.oauthConfig(nil).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return domain.RefreshedToken{}, mapOAuth2Error(domain.ProviderGoogle, err)
	}

	if token.AccessToken == "" || token.Expiry.IsZero() {
		return domain.RefreshedToken{}, &domain.AuthError{
			Code:     domain.AuthErrorProviderUnavailable,
			Provider: domain.ProviderGoogle,
			Err:      errors.New("failed to refresh access token"),
		}
	}

	return domain.RefreshedToken{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry.Unix(),
	}, nil
}

func grantedScopes(token *oauth2.Token) []string {
	scope, _ := token.Extra("scope").(string)
	if scope == "" {
		return nil
	}

	return strings.Fields(scope)
}

func validateClientCredentials(provider domain.Provider, creds ClientCredentials) error {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return &domain.AuthError{
			Code:     domain.AuthErrorProviderUnavailable,
			Provider: provider,
			Err:      fmt.Errorf("%s OAuth client credentials not configured", provider),
		}
	}

	return nil
}

// mapOAuth2Error translates oauth2 transport errors into the auth taxonomy. A
// 4xx from the token endpoint means the code or grant was rejected.
func mapOAuth2Error(provider domain.Provider, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return &domain.AuthError{Code: domain.AuthErrorInvalidCode, Provider: provider, Err: err}
		}
	}

	return &domain.AuthError{Code: domain.AuthErrorProviderUnavailable, Provider: provider, Err: err}
}
