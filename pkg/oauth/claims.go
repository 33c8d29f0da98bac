package oauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried by an ID token.
type Claims struct {
	// Subject is the sub claim.
	Subject string

	// Email is the email claim.
	Email string

	// Name is the name claim.
	Name string

	// Attributes holds every top-level scalar claim in string form.
	Attributes map[string]string
}

// Get returns a single attribute, or "" when absent.
func (c Claims) Get(name string) string {
	return c.Attributes[name]
}

// IsZero reports whether no claims were extracted.
func (c Claims) IsZero() bool {
	return c.Subject == "" && c.Email == "" && c.Name == "" && len(c.Attributes) == 0
}

var claimsParser = jwt.NewParser(jwt.WithPaddingAllowed())

// ExtractClaims decodes the payload of an ID token without verifying its signature.
// The header and signature segments are not inspected. Numbers keep their literal
// JSON form, booleans become "true"/"false", and arrays, objects and nulls are skipped.
func ExtractClaims(idToken string) (Claims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: token has %d segments, want 3", ErrMalformedToken, len(parts))
	}

	data, err := claimsParser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: could not base64 decode payload: %v", ErrMalformedToken, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return Claims{}, fmt.Errorf("%w: could not JSON decode payload: %v", ErrMalformedToken, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Claims{}, fmt.Errorf("%w: trailing data after payload", ErrMalformedToken)
	}
	mapClaims, ok := payload.(map[string]interface{})
	if !ok {
		return Claims{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}

	claims := Claims{Attributes: make(map[string]string, len(mapClaims))}
	for name, raw := range mapClaims {
		value, ok := scalarString(raw)
		if !ok {
			continue
		}
		claims.Attributes[name] = value
	}

	claims.Subject = claims.Attributes["sub"]
	claims.Email = claims.Attributes["email"]
	claims.Name = claims.Attributes["name"]

	return claims, nil
}

func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
