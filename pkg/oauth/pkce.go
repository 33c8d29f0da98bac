package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultVerifierLength is the number of characters in a generated code verifier.
	DefaultVerifierLength = 64

	// MinVerifierLength and MaxVerifierLength bound the verifier length (RFC 7636 section 4.1).
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// ChallengeMethodS256 is the only challenge method we send.
	ChallengeMethodS256 = "S256"

	// verifierAlphabet is the unreserved character set allowed in a code verifier.
	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// PKCEChallenge is a single-use verifier/challenge pair for one login flow.
type PKCEChallenge struct {
	// FlowID identifies the login flow this pair belongs to.
	FlowID string

	// CodeVerifier stays on the device and is sent only to the token endpoint.
	CodeVerifier string

	// CodeChallenge is base64url(SHA-256(CodeVerifier)) without padding.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string

	// CreatedAt is when the pair was generated.
	CreatedAt time.Time
}

// PKCEGenerator produces verifier/challenge pairs.
// The zero value generates 64-character verifiers from crypto/rand.
type PKCEGenerator struct {
	// Length is the verifier length. Zero means DefaultVerifierLength.
	Length int

	// Random is the entropy source. Nil means crypto/rand.Reader.
	Random io.Reader

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// Generate returns a fresh PKCE pair. An error from the random source is returned
// as-is; there is no fallback to a weaker source.
func (g PKCEGenerator) Generate() (*PKCEChallenge, error) {
	length := g.Length
	if length == 0 {
		length = DefaultVerifierLength
	}
	if length < MinVerifierLength || length > MaxVerifierLength {
		return nil, fmt.Errorf("code verifier length %d outside [%d, %d]", length, MinVerifierLength, MaxVerifierLength)
	}

	random := g.Random
	if random == nil {
		random = rand.Reader
	}

	verifier, err := randomString(random, length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	return &PKCEChallenge{
		FlowID:              uuid.NewString(),
		CodeVerifier:        verifier,
		CodeChallenge:       ComputeChallenge(verifier),
		CodeChallengeMethod: ChallengeMethodS256,
		CreatedAt:           now(),
	}, nil
}

// ComputeChallenge derives the S256 code challenge for a verifier.
func ComputeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// randomString draws length characters uniformly from verifierAlphabet.
// Bytes that would bias the distribution are rejected and redrawn.
func randomString(random io.Reader, length int) (string, error) {
	const alphabetLen = len(verifierAlphabet)
	// Largest multiple of alphabetLen that fits in a byte.
	const limit = 256 - 256%alphabetLen

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, verifierAlphabet[int(b)%alphabetLen])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
