package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/authkeeper/pkg/logging"
)

// PKCE verifier bounds from RFC 7636.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks the whole configuration and returns ValidationErrors
// listing every problem, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	p := c.Provider
	if strings.TrimSpace(p.ClientID) == "" {
		errs.Add("provider.client_id", "is required")
	}

	explicit := p.AuthorizationEndpoint != "" || p.TokenEndpoint != ""
	switch {
	case explicit:
		if p.AuthorizationEndpoint == "" || p.TokenEndpoint == "" {
			errs.Add("provider", "authorization_endpoint and token_endpoint must be set together")
		}
		validateEndpoint(&errs, "provider.authorization_endpoint", p.AuthorizationEndpoint)
		validateEndpoint(&errs, "provider.token_endpoint", p.TokenEndpoint)
	case p.Domain != "":
		if strings.Contains(p.Domain, "://") || strings.ContainsAny(p.Domain, "/?#") {
			errs.Add("provider.domain", "must be a bare host name such as auth.example.com", p.Domain)
		}
	case p.Issuer != "":
		validateEndpoint(&errs, "provider.issuer", p.Issuer)
	default:
		errs.Add("provider", "one of domain, issuer or authorization_endpoint/token_endpoint is required")
	}

	if p.RedirectURI == "" {
		errs.Add("provider.redirect_uri", "is required")
	} else if u, err := url.Parse(p.RedirectURI); err != nil || u.Scheme == "" {
		errs.Add("provider.redirect_uri", "must be an absolute URI", p.RedirectURI)
	}

	s := c.Session
	if s.RefreshThreshold < 0 {
		errs.Add("session.refresh_threshold", "must not be negative", s.RefreshThreshold)
	}
	if s.TickInterval < 0 {
		errs.Add("session.tick_interval", "must not be negative", s.TickInterval)
	}
	if s.PKCEMaxAge < 0 {
		errs.Add("session.pkce_max_age", "must not be negative", s.PKCEMaxAge)
	}
	if s.PKCEVerifierLength != 0 && (s.PKCEVerifierLength < minVerifierLength || s.PKCEVerifierLength > maxVerifierLength) {
		errs.Add("session.pkce_verifier_length", fmt.Sprintf("must be between %d and %d", minVerifierLength, maxVerifierLength), s.PKCEVerifierLength)
	}

	if err := ValidateOneOf("storage.backend", c.Storage.Backend, []string{BackendFile, BackendSQLite, BackendMemory}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateEndpoint requires https, except for loopback hosts.
func validateEndpoint(errs *ValidationErrors, field, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		errs.Add(field, "must be an absolute URL", raw)
		return
	}
	switch u.Scheme {
	case "https":
	case "http":
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
		default:
			errs.Add(field, "must use https", raw)
		}
	default:
		errs.Add(field, "must use https", raw)
	}
}
