package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound   = errors.New("provider not found in registry")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrRunNotFound        = errors.New("workflow run not found")
)

// ErrCodec marks encryption key or ciphertext failures. Tampered blobs are
// detected by the AEAD and surface through this sentinel.
var ErrCodec = errors.New("secret codec failure")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}

	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

type AuthErrorCode string

const (
	AuthErrorInvalidCode          AuthErrorCode = "INVALID_CODE"
	AuthErrorUnsupportedOperation AuthErrorCode = "UNSUPPORTED_OPERATION"
	AuthErrorUnauthorized         AuthErrorCode = "UNAUTHORIZED"
	AuthErrorProviderUnavailable  AuthErrorCode = "PROVIDER_UNAVAILABLE"
)

type AuthError struct {
	Code     AuthErrorCode
	Provider Provider
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s for provider %s: %v", e.Code, e.Provider, e.Err)
	}

	return fmt.Sprintf("auth error %s for provider %s", e.Code, e.Provider)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type CredentialErrorCode string

const (
	CredentialErrorExpired   CredentialErrorCode = "EXPIRED"
	CredentialErrorCorrupted CredentialErrorCode = "CORRUPTED"
	CredentialErrorMissing   CredentialErrorCode = "MISSING"
)

type CredentialError struct {
	Code         CredentialErrorCode
	Provider     Provider
	CredentialID string
	Err          error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error %s for provider %s (credential %s)", e.Code, e.Provider, e.CredentialID)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// RunStateError signals a run lifecycle invariant violation. It is an internal
// assertion and never surfaces to callers of the tracker.
type RunStateError struct {
	RunID  string
	Reason string
}

func (e *RunStateError) Error() string {
	return fmt.Sprintf("run state invariant violated for run %s: %s", e.RunID, e.Reason)
}
