package domain

import (
	"context"
	"time"
)

type CredentialType string

const (
	CredentialTypeOAuth  CredentialType = "OAUTH"
	CredentialTypeAPIKey CredentialType = "API_KEY"
)

// OAuthSecret is the decrypted payload of an OAUTH credential.
type OAuthSecret struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"` // provider extras (team id, tenant id, bot user id)
}

// APIKeySecret is the decrypted payload of an API_KEY credential.
type APIKeySecret struct {
	APIKey string            `json:"api_key"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// SecretPayload is the tagged union of decrypted secret shapes. Exactly one
// branch is set, matching the credential type.
type SecretPayload struct {
	OAuth  *OAuthSecret  `json:"oauth,omitempty"`
	APIKey *APIKeySecret `json:"api_key,omitempty"`
}

func (p SecretPayload) Type() CredentialType {
	if p.OAuth != nil {
		return CredentialTypeOAuth
	}

	return CredentialTypeAPIKey
}

type Credential struct {
	ID              string
	UserID          string
	Provider        Provider
	Type            CredentialType
	Name            string
	EncryptedSecret string
	Config          map[string]any
	ExpiresAt       *time.Time // denormalized OAuth expiry, display only
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SafeCredential is a credential with its secret stripped, safe to return to clients.
type SafeCredential struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Provider  Provider       `json:"provider"`
	Type      CredentialType `json:"type"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config,omitempty"`
	IsValid   bool           `json:"is_valid"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DecryptedCredential is a credential with its secret decrypted, handed to
// workflow bodies through the execution context.
type DecryptedCredential struct {
	Credential
	Secret SecretPayload

	// Stale marks a credential whose refresh failed; the last known good
	// token is returned instead.
	Stale bool
}

type CreateCredentialParams struct {
	Name     string
	Type     CredentialType
	Provider Provider
	Secret   SecretPayload
	Config   map[string]any
}

type CredentialRepository interface {
	// Upsert writes a credential keyed by (user, name). An existing document
	// with the same key is overwritten in place only when provider and type
	// match; a mismatch fails with a ValidationError.
	Upsert(ctx context.Context, credential Credential) (Credential, error)
	Get(ctx context.Context, credentialID string) (Credential, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	UpdateSecret(ctx context.Context, credentialID string, encryptedSecret string, expiresAt *time.Time) error
	Delete(ctx context.Context, credentialID string) error
}

type WorkflowCredentialRepository interface {
	Link(ctx context.Context, workflowID, credentialID string) error
	UnlinkCredential(ctx context.Context, credentialID string) error
	CredentialIDs(ctx context.Context, workflowID string) ([]string, error)
}

// CredentialResolver is the hot path consumed by workflow execution. Providers
// listed in required are strict: a missing, corrupted or expired credential for
// one of them fails the whole resolution.
type CredentialResolver interface {
	Resolve(ctx context.Context, workflowID string, required []Provider) ([]DecryptedCredential, error)
}
