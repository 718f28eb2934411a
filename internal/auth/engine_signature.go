package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/duramation/duramation/pkg/domain"
)

const (
	SignatureHeader = "X-Engine-Signature"
	TimestampHeader = "X-Engine-Timestamp"

	signaturePrefix = "ed25519="
	maxClockSkew    = 5 * time.Minute
)

// EngineRequestSigner signs outbound requests to the execution engine so the
// engine can authenticate this service.
type EngineRequestSigner struct {
	privateKey ed25519.PrivateKey
}

func NewEngineRequestSigner(privateKeyBase64 string) (*EngineRequestSigner, error) {
	privateKeyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}

	if len(privateKeyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signing key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKeyBytes))
	}

	return &EngineRequestSigner{privateKey: ed25519.PrivateKey(privateKeyBytes)}, nil
}

func (s *EngineRequestSigner) SignRequest(method, path string, body []byte) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	signature := ed25519.Sign(s.privateKey, canonicalRequest(method, path, timestamp, body))

	return map[string]string{
		SignatureHeader: signaturePrefix + base64.StdEncoding.EncodeToString(signature),
		TimestampHeader: timestamp,
	}
}

// EngineSignatureVerifier authenticates inbound engine calls on the workspace
// endpoints. Signatures cover method, path, timestamp and body hash; the
// timestamp bounds replay to a five minute window.
type EngineSignatureVerifier struct {
	publicKey ed25519.PublicKey
	now       func() time.Time
}

func NewEngineSignatureVerifier(publicKeyBase64 string) (*EngineSignatureVerifier, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode verification key: %w", err)
	}

	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid verification key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	return &EngineSignatureVerifier{
		publicKey: ed25519.PublicKey(publicKeyBytes),
		now:       time.Now,
	}, nil
}

func (v *EngineSignatureVerifier) VerifyRequest(method, path, signatureHeader, timestampHeader string, body []byte) error {
	if len(signatureHeader) <= len(signaturePrefix) || signatureHeader[:len(signaturePrefix)] != signaturePrefix {
		return unauthorized(fmt.Errorf("malformed signature header"))
	}

	signature, err := base64.StdEncoding.DecodeString(signatureHeader[len(signaturePrefix):])
	if err != nil {
		return unauthorized(fmt.Errorf("failed to decode signature: %w", err))
	}

	timestamp, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return unauthorized(fmt.Errorf("invalid timestamp: %w", err))
	}

	skew := v.now().Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}

	if skew > maxClockSkew {
		return unauthorized(fmt.Errorf("timestamp outside allowed window"))
	}

	if !ed25519.Verify(v.publicKey, canonicalRequest(method, path, timestampHeader, body), signature) {
		return unauthorized(fmt.Errorf("signature verification failed"))
	}

	return nil
}

func canonicalRequest(method, path, timestamp string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)

	return []byte(fmt.Sprintf("%s\n%s\n%s\nsha256:%x", method, path, timestamp, bodyHash))
}

func unauthorized(err error) error {
	return &domain.AuthError{Code: domain.AuthErrorUnauthorized, Err: err}
}

// GenerateSigningKeyPair returns a fresh base64 encoded ed25519 key pair for
// engine request signing.
func GenerateSigningKeyPair() (publicKey string, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}
