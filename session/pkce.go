package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code
	// verifier. 32 bytes provides 256 bits of entropy.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state
	// parameter. 32 bytes encodes to 43 base64url characters.
	stateBytes = 32
)

// AuthState is one login attempt's PKCE material. It is generated per
// attempt, persisted to short-lived storage, consumed exactly once by the
// code exchange, and never reused.
type AuthState struct {
	State         string `json:"state"`
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// GenerateAuthState produces fresh PKCE material: a random verifier, its
// S256 challenge (SHA256 then raw base64url), and a random state parameter.
func GenerateAuthState() (*AuthState, error) {
	verifier, challenge, err := generatePKCE()
	if err != nil {
		return nil, err
	}
	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	return &AuthState{State: state, CodeVerifier: verifier, CodeChallenge: challenge}, nil
}

// generatePKCE generates a PKCE code verifier and its S256 challenge.
func generatePKCE() (verifier, challenge string, err error) {
	verifier, err = randomToken(pkceVerifierBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return verifier, challenge, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
