package session

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestGenerateAuthState(t *testing.T) {
	st, err := GenerateAuthState()
	if err != nil {
		t.Fatalf("GenerateAuthState() failed: %v", err)
	}
	if st.State == "" || st.CodeVerifier == "" || st.CodeChallenge == "" {
		t.Fatalf("incomplete auth state: %+v", st)
	}

	// The challenge must be the raw-base64url SHA256 of the verifier.
	hash := sha256.Sum256([]byte(st.CodeVerifier))
	want := base64.RawURLEncoding.EncodeToString(hash[:])
	if st.CodeChallenge != want {
		t.Fatalf("challenge mismatch:\ngot:  %q\nwant: %q", st.CodeChallenge, want)
	}
}

func TestGenerateAuthStateUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		st, err := GenerateAuthState()
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if seen[st.CodeVerifier] {
			t.Fatalf("duplicate verifier on iteration %d", i)
		}
		if seen[st.State] {
			t.Fatalf("duplicate state on iteration %d", i)
		}
		seen[st.CodeVerifier] = true
		seen[st.State] = true
	}
}
