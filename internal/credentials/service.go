package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duramation/duramation/internal/secrets"
	"github.com/duramation/duramation/pkg/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// refreshBuffer is how close to expiry a token may get before a resolve
// refreshes it.
const refreshBuffer = 5 * time.Minute

// KeyValidator checks a candidate key against the provider API. A false
// result means the provider rejected the key; an error means the check itself
// could not complete.
type KeyValidator interface {
	Validate(ctx context.Context, apiKey string) (bool, error)
}

// Service owns credential persistence, validation and refresh-on-read.
// Concurrent resolves that would refresh the same credential collapse into a
// single in-flight refresh call.
type Service struct {
	credentials   domain.CredentialRepository
	links         domain.WorkflowCredentialRepository
	handlers      domain.OAuthHandlerResolver
	codec         *secrets.Codec
	keyValidators map[domain.Provider]KeyValidator

	refreshGroup singleflight.Group
	now          func() time.Time
}

type ServiceDependencies struct {
	CredentialRepository         domain.CredentialRepository
	WorkflowCredentialRepository domain.WorkflowCredentialRepository
	HandlerResolver              domain.OAuthHandlerResolver
	Codec                        *secrets.Codec
	KeyValidators                map[domain.Provider]KeyValidator
}

func NewService(deps ServiceDependencies) *Service {
	return &Service{
		credentials:   deps.CredentialRepository,
		links:         deps.WorkflowCredentialRepository,
		handlers:      deps.HandlerResolver,
		codec:         deps.Codec,
		keyValidators: deps.KeyValidators,
		now:           time.Now,
	}
}

// Store persists a manually submitted credential. OAuth credentials may only
// be created through the callback path and are rejected here. When a key
// validator is registered for the provider the key is checked against the
// provider API first; a key the provider rejects fails the create, while a
// check that cannot complete only logs.
func (s *Service) Store(ctx context.Context, userID string, params domain.CreateCredentialParams) (domain.SafeCredential, error) {
	if params.Type == domain.CredentialTypeOAuth {
		return domain.SafeCredential{}, &domain.ValidationError{
			Field:  "type",
			Reason: "OAuth credentials may only be created via the OAuth callback",
		}
	}

	if validator, ok := s.keyValidators[params.Provider]; ok && params.Secret.APIKey != nil {
		valid, err := validator.Validate(ctx, params.Secret.APIKey.APIKey)
		switch {
		case err != nil:
			log.Warn().
				Err(err).
				Str("provider", string(params.Provider)).
				Msg("API key validation could not complete, storing credential unchecked")
		case !valid:
			return domain.SafeCredential{}, &domain.ValidationError{
				Field:  "secret",
				Reason: fmt.Sprintf("%s rejected the API key", params.Provider),
			}
		}
	}

	return s.store(ctx, userID, params)
}

// StoreForWorkflow stores a credential and links it to a workflow.
func (s *Service) StoreForWorkflow(ctx context.Context, userID, workflowID string, params domain.CreateCredentialParams) (domain.SafeCredential, error) {
	credential, err := s.Store(ctx, userID, params)
	if err != nil {
		return domain.SafeCredential{}, err
	}

	if err := s.links.Link(ctx, workflowID, credential.ID); err != nil {
		return domain.SafeCredential{}, fmt.Errorf("failed to link credential to workflow: %w", err)
	}

	return credential, nil
}

// StoreOAuthCredential persists tokens obtained from an OAuth callback,
// optionally linking the credential to the workflow the connect flow started
// from.
func (s *Service) StoreOAuthCredential(ctx context.Context, userID, workflowID string, params domain.CreateCredentialParams) (domain.SafeCredential, error) {
	if params.Type != domain.CredentialTypeOAuth {
		return domain.SafeCredential{}, &domain.ValidationError{Field: "type", Reason: "expected an OAuth credential"}
	}

	credential, err := s.store(ctx, userID, params)
	if err != nil {
		return domain.SafeCredential{}, err
	}

	if workflowID != "" {
		if err := s.links.Link(ctx, workflowID, credential.ID); err != nil {
			return domain.SafeCredential{}, fmt.Errorf("failed to link credential to workflow: %w", err)
		}
	}

	return credential, nil
}

func (s *Service) store(ctx context.Context, userID string, params domain.CreateCredentialParams) (domain.SafeCredential, error) {
	if err := validateSecretShape(params.Type, params.Provider, params.Secret); err != nil {
		return domain.SafeCredential{}, err
	}

	encrypted, err := s.codec.Encrypt(params.Secret)
	if err != nil {
		return domain.SafeCredential{}, err
	}

	name := params.Name
	if name == "" {
		name = fmt.Sprintf("%s Integration", params.Provider)
	}

	now := s.now().UTC()

	credential := domain.Credential{
		ID:              uuid.NewString(),
		UserID:          userID,
		Provider:        params.Provider,
		Type:            params.Type,
		Name:            name,
		EncryptedSecret: encrypted,
		Config:          params.Config,
		ExpiresAt:       secretExpiry(params.Secret),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, err := s.credentials.Upsert(ctx, credential)
	if err != nil {
		return domain.SafeCredential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	return s.toSafe(stored), nil
}

// ListForUser returns the user's credentials with secrets stripped.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.SafeCredential, error) {
	stored, err := s.credentials.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	safe := make([]domain.SafeCredential, 0, len(stored))
	for _, credential := range stored {
		safe = append(safe, s.toSafe(credential))
	}

	return safe, nil
}

// Delete removes a credential the user owns, cascading workflow links.
func (s *Service) Delete(ctx context.Context, credentialID, userID string) error {
	credential, err := s.credentials.Get(ctx, credentialID)
	if err != nil {
		return err
	}

	if credential.UserID != userID {
		return &domain.AuthError{Code: domain.AuthErrorUnauthorized, Provider: credential.Provider}
	}

	if err := s.links.UnlinkCredential(ctx, credentialID); err != nil {
		return fmt.Errorf("failed to remove workflow links: %w", err)
	}

	if err := s.credentials.Delete(ctx, credentialID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return nil
}

// Resolve decrypts every credential linked to the workflow, refreshing OAuth
// tokens that are within the refresh buffer of expiry. Per-credential failures
// exclude that credential unless its provider is strictly required.
func (s *Service) Resolve(ctx context.Context, workflowID string, required []domain.Provider) ([]domain.DecryptedCredential, error) {
	credentialIDs, err := s.links.CredentialIDs(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow credentials: %w", err)
	}

	requiredSet := make(map[domain.Provider]bool, len(required))
	for _, provider := range required {
		requiredSet[provider] = true
	}

	resolved := make([]domain.DecryptedCredential, 0, len(credentialIDs))
	seen := make(map[domain.Provider]bool)

	for _, credentialID := range credentialIDs {
		credential, err := s.credentials.Get(ctx, credentialID)
		if err != nil {
			if errors.Is(err, domain.ErrCredentialNotFound) {
				continue
			}

			return nil, err
		}

		var payload domain.SecretPayload
		if err := s.codec.Decrypt(credential.EncryptedSecret, &payload); err != nil {
			credErr := &domain.CredentialError{
				Code:         domain.CredentialErrorCorrupted,
				Provider:     credential.Provider,
				CredentialID: credential.ID,
				Err:          err,
			}

			if requiredSet[credential.Provider] {
				return nil, credErr
			}

			log.Warn().
				Str("credential_id", credential.ID).
				Str("provider", string(credential.Provider)).
				Msg("Excluding corrupted credential from resolution")

			continue
		}

		decrypted := domain.DecryptedCredential{Credential: credential, Secret: payload}

		if s.needsRefresh(payload) {
			refreshed, err := s.refresh(ctx, credential, payload)
			if err != nil {
				return nil, err
			}

			decrypted.Secret = refreshed.payload
			decrypted.Stale = refreshed.stale
		}

		seen[credential.Provider] = true
		resolved = append(resolved, decrypted)
	}

	for _, provider := range required {
		if !seen[provider] {
			return nil, &domain.CredentialError{Code: domain.CredentialErrorMissing, Provider: provider}
		}
	}

	return resolved, nil
}

func (s *Service) needsRefresh(payload domain.SecretPayload) bool {
	oauth := payload.OAuth
	if oauth == nil || oauth.ExpiresAt.IsZero() {
		return false
	}

	return oauth.ExpiresAt.Sub(s.now()) <= refreshBuffer
}

type refreshResult struct {
	payload domain.SecretPayload
	stale   bool
}

// refresh collapses concurrent refreshes of the same credential into one
// provider call; every caller observes the result of that single call.
func (s *Service) refresh(ctx context.Context, credential domain.Credential, payload domain.SecretPayload) (refreshResult, error) {
	v, err, _ := s.refreshGroup.Do(credential.ID, func() (any, error) {
		return s.refreshCredential(ctx, credential, payload)
	})
	if err != nil {
		return refreshResult{}, err
	}

	return v.(refreshResult), nil
}

func (s *Service) refreshCredential(ctx context.Context, credential domain.Credential, payload domain.SecretPayload) (refreshResult, error) {
	oauth := payload.OAuth
	expired := s.now().After(oauth.ExpiresAt)

	failClosed := func(cause error) (refreshResult, error) {
		if expired {
			return refreshResult{}, &domain.CredentialError{
				Code:         domain.CredentialErrorExpired,
				Provider:     credential.Provider,
				CredentialID: credential.ID,
				Err:          cause,
			}
		}

		// Not expired yet: degrade to the last known good token.
		return refreshResult{payload: payload, stale: cause != nil}, nil
	}

	if oauth.RefreshToken == "" {
		return failClosed(nil)
	}

	handler, err := s.handlers.OAuthHandlerFor(credential.Provider)
	if err != nil {
		return failClosed(err)
	}

	token, err := handler.Refresh(ctx, oauth.RefreshToken)
	if err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) && authErr.Code == domain.AuthErrorUnsupportedOperation {
			// Provider tokens never expire through refresh; keep what we have.
			return failClosed(nil)
		}

		// One best-effort retry before degrading.
		token, err = handler.Refresh(ctx, oauth.RefreshToken)
		if err != nil {
			log.Warn().
				Err(err).
				Str("credential_id", credential.ID).
				Str("provider", string(credential.Provider)).
				Msg("Token refresh failed, returning last known good token")

			return failClosed(err)
		}
	}

	refreshedSecret := *oauth
	refreshedSecret.AccessToken = token.AccessToken
	refreshedSecret.ExpiresAt = time.Unix(token.ExpiresAt, 0).UTC()

	refreshedPayload := domain.SecretPayload{OAuth: &refreshedSecret}

	encrypted, err := s.codec.Encrypt(refreshedPayload)
	if err != nil {
		return refreshResult{}, err
	}

	expiresAt := refreshedSecret.ExpiresAt
	if err := s.credentials.UpdateSecret(ctx, credential.ID, encrypted, &expiresAt); err != nil {
		log.Error().
			Err(err).
			Str("credential_id", credential.ID).
			Msg("Failed to persist refreshed token")
	}

	return refreshResult{payload: refreshedPayload}, nil
}

func (s *Service) toSafe(credential domain.Credential) domain.SafeCredential {
	isValid := credential.ExpiresAt == nil || credential.ExpiresAt.After(s.now())

	return domain.SafeCredential{
		ID:        credential.ID,
		UserID:    credential.UserID,
		Provider:  credential.Provider,
		Type:      credential.Type,
		Name:      credential.Name,
		Config:    credential.Config,
		IsValid:   isValid,
		ExpiresAt: credential.ExpiresAt,
		CreatedAt: credential.CreatedAt,
		UpdatedAt: credential.UpdatedAt,
	}
}

func secretExpiry(payload domain.SecretPayload) *time.Time {
	if payload.OAuth == nil || payload.OAuth.ExpiresAt.IsZero() {
		return nil
	}

	expiresAt := payload.OAuth.ExpiresAt.UTC()

	return &expiresAt
}

func validateSecretShape(credType domain.CredentialType, provider domain.Provider, payload domain.SecretPayload) error {
	authType := provider.AuthType()
	if authType == "" {
		return &domain.ValidationError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
	}

	switch credType {
	case domain.CredentialTypeOAuth:
		if authType != domain.ProviderAuthTypeOAuth {
			return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("provider %s does not use OAuth", provider)}
		}

		if payload.OAuth == nil || payload.APIKey != nil {
			return &domain.ValidationError{Field: "secret", Reason: "expected an OAuth secret shape"}
		}

		if payload.OAuth.AccessToken == "" {
			return &domain.ValidationError{Field: "secret.access_token", Reason: "access token is required"}
		}

		if payload.OAuth.RefreshToken != "" && payload.OAuth.ExpiresAt.IsZero() {
			return &domain.ValidationError{Field: "secret.expires_at", Reason: "refreshable secrets must carry an expiry"}
		}
	case domain.CredentialTypeAPIKey:
		if authType != domain.ProviderAuthTypeAPIKey {
			return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("provider %s does not use API keys", provider)}
		}

		if payload.APIKey == nil || payload.OAuth != nil {
			return &domain.ValidationError{Field: "secret", Reason: "expected an API key secret shape"}
		}

		if payload.APIKey.APIKey == "" {
			return &domain.ValidationError{Field: "secret.api_key", Reason: "api key is required"}
		}
	default:
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown credential type %q", credType)}
	}

	return nil
}
