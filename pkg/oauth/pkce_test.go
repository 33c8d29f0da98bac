package oauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestPKCEGenerator_Defaults(t *testing.T) {
	pkce, err := PKCEGenerator{}.Generate()
	if err != nil {
		t.Fatalf("PKCEGenerator{}.Generate() error = %v", err)
	}

	if len(pkce.CodeVerifier) != DefaultVerifierLength {
		t.Errorf("CodeVerifier length = %d, want %d", len(pkce.CodeVerifier), DefaultVerifierLength)
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}

	if stdlib := oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier); pkce.CodeChallenge != stdlib {
		t.Errorf("CodeChallenge = %q, want x/oauth2 result %q", pkce.CodeChallenge, stdlib)
	}

	if pkce.FlowID == "" {
		t.Error("expected FlowID to be set")
	}
}

func TestPKCEGenerator_Alphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		pkce, err := PKCEGenerator{}.Generate()
		if err != nil {
			t.Fatalf("PKCEGenerator{}.Generate() error = %v", err)
		}
		for _, r := range pkce.CodeVerifier {
			if !strings.ContainsRune(verifierAlphabet, r) {
				t.Fatalf("verifier contains %q outside the unreserved alphabet", r)
			}
		}
		if strings.ContainsAny(pkce.CodeChallenge, "+/=") {
			t.Fatalf("challenge %q is not unpadded base64url", pkce.CodeChallenge)
		}
	}
}

func TestPKCEGenerator_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pkce, err := PKCEGenerator{}.Generate()
		if err != nil {
			t.Fatalf("PKCEGenerator{}.Generate() error = %v", err)
		}
		if seen[pkce.CodeVerifier] {
			t.Fatal("generated duplicate verifier")
		}
		seen[pkce.CodeVerifier] = true
	}
}

func TestPKCEGenerator_Length(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{name: "minimum", length: 43},
		{name: "maximum", length: 128},
		{name: "too short", length: 42, wantErr: true},
		{name: "too long", length: 129, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkce, err := PKCEGenerator{Length: tt.length}.Generate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(pkce.CodeVerifier) != tt.length {
				t.Errorf("verifier length = %d, want %d", len(pkce.CodeVerifier), tt.length)
			}
		})
	}
}

func TestPKCEGenerator_RejectsBiasedBytes(t *testing.T) {
	// 66-character alphabet: bytes >= 198 are rejected.
	random := bytes.NewReader(append(bytes.Repeat([]byte{255}, 10), bytes.Repeat([]byte{0}, 200)...))
	pkce, err := PKCEGenerator{Random: random}.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkce.CodeVerifier != strings.Repeat("A", DefaultVerifierLength) {
		t.Errorf("CodeVerifier = %q, want only 'A'", pkce.CodeVerifier)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy unavailable")
}

func TestPKCEGenerator_RandomFailure(t *testing.T) {
	_, err := PKCEGenerator{Random: failingReader{}}.Generate()
	if err == nil {
		t.Fatal("expected error when the random source fails")
	}
	if !strings.Contains(err.Error(), "entropy unavailable") {
		t.Errorf("error %q does not carry the cause", err)
	}
}

func TestPKCEGenerator_Clock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pkce, err := PKCEGenerator{Now: func() time.Time { return fixed }}.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pkce.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", pkce.CreatedAt, fixed)
	}
}

func TestComputeChallenge_RFC7636Vector(t *testing.T) {
	// Appendix B of RFC 7636.
	got := ComputeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got != want {
		t.Errorf("ComputeChallenge() = %q, want %q", got, want)
	}
}
