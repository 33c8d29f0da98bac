package oauth

import (
	"net/url"
	"strings"
)

// DefaultErrorDescription is used when an error redirect has no error_description.
const DefaultErrorDescription = "Unknown error"

// CallbackResult is the outcome carried by an authorization redirect.
// Exactly one of Code or Error is set.
type CallbackResult struct {
	Code             string
	Error            string
	ErrorDescription string
}

// IsError reports whether the provider returned an error instead of a code.
func (r CallbackResult) IsError() bool {
	return r.Code == ""
}

// ParseCallback extracts the code or error from a redirect URL such as
// myapp://callback?code=abc. A non-empty code wins over an error. A URL with
// neither returns ErrInvalidCallback.
func ParseCallback(redirectURL string) (CallbackResult, error) {
	params := parseQuery(redirectURL)

	if code := params["code"]; code != "" {
		return CallbackResult{Code: code}, nil
	}

	if errCode, ok := params["error"]; ok {
		description, ok := params["error_description"]
		if !ok {
			description = DefaultErrorDescription
		}
		return CallbackResult{Error: errCode, ErrorDescription: description}, nil
	}

	return CallbackResult{}, ErrInvalidCallback
}

// parseQuery splits the query part of rawURL on '&' then '='. Pairs that do not
// split into exactly a key and a value, or whose value does not decode, are
// skipped. Later duplicates overwrite earlier ones.
func parseQuery(rawURL string) map[string]string {
	params := make(map[string]string)

	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	i := strings.IndexByte(rawURL, '?')
	if i < 0 {
		return params
	}

	for _, pair := range strings.Split(rawURL[i+1:], "&") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		value, err := url.QueryUnescape(kv[1])
		if err != nil {
			continue
		}
		params[kv[0]] = value
	}
	return params
}

// MatchesRedirect reports whether redirectURL targets the configured redirect URI,
// comparing scheme and host case-insensitively.
func MatchesRedirect(redirectURL, configuredRedirectURI string) bool {
	got, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	want, err := url.Parse(configuredRedirectURI)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, want.Scheme) && strings.EqualFold(got.Host, want.Host)
}
