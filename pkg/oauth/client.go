package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached discovery metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client talks to the provider: it builds the hosted UI URL and performs the
// authorization_code and refresh_token grants against the token endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	endpointsMu sync.RWMutex
	endpoints   Endpoints

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration
	metadataGroup singleflight.Group
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the discovery cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// NewClient creates a client for the given provider endpoints.
func NewClient(endpoints Endpoints, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		endpoints:     endpoints,
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoints returns the endpoints currently in use.
func (c *Client) Endpoints() Endpoints {
	c.endpointsMu.RLock()
	defer c.endpointsMu.RUnlock()
	return c.endpoints
}

// BuildLoginURL returns the hosted UI URL for a PKCE challenge. Parameters are
// emitted in a fixed order: client_id, response_type, scope, redirect_uri,
// code_challenge, code_challenge_method.
func (c *Client) BuildLoginURL(codeChallenge string) (string, error) {
	e := c.Endpoints()
	if e.AuthorizationEndpoint == "" {
		return "", errors.New("authorization endpoint is not configured")
	}
	if _, err := url.Parse(e.AuthorizationEndpoint); err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	params := [][2]string{
		{"client_id", e.ClientID},
		{"response_type", "code"},
		{"scope", e.scope()},
		{"redirect_uri", e.RedirectURI},
		{"code_challenge", codeChallenge},
		{"code_challenge_method", ChallengeMethodS256},
	}

	var b strings.Builder
	b.WriteString(e.AuthorizationEndpoint)
	if strings.Contains(e.AuthorizationEndpoint, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String(), nil
}

// ExchangeCode trades an authorization code and its PKCE verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResult, error) {
	e := c.Endpoints()
	data := url.Values{
		"grant_type":    {grantAuthorizationCode},
		"client_id":     {e.ClientID},
		"code":          {code},
		"redirect_uri":  {e.RedirectURI},
		"code_verifier": {codeVerifier},
	}
	return c.doTokenRequest(ctx, grantAuthorizationCode, e.TokenEndpoint, data)
}

// ExchangeRefresh obtains new tokens with a refresh token. The response may omit
// refresh_token and id_token.
func (c *Client) ExchangeRefresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	e := c.Endpoints()
	data := url.Values{
		"grant_type":    {grantRefreshToken},
		"client_id":     {e.ClientID},
		"refresh_token": {refreshToken},
	}
	return c.doTokenRequest(ctx, grantRefreshToken, e.TokenEndpoint, data)
}

// errorResponse is the RFC 6749 section 5.2 error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) doTokenRequest(ctx context.Context, grant, tokenEndpoint string, data url.Values) (*TokenResult, error) {
	if tokenEndpoint == "" {
		return nil, &TokenError{Kind: ErrProtocol, Op: grant, Err: errors.New("token endpoint is not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &TokenError{Kind: ErrProtocol, Op: grant, Err: fmt.Errorf("failed to create token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenError{Kind: ErrNetwork, Op: grant, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenError{Kind: ErrNetwork, Op: grant, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := ErrProtocol
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			kind = ErrAuth
		}

		var cause error
		var oauthErr errorResponse
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			cause = fmt.Errorf("%s: %s", oauthErr.Error, oauthErr.ErrorDescription)
		}

		c.logger.Debug("Token request failed",
			"grant", grant,
			"status", resp.StatusCode,
			"error", oauthErr.Error)
		return nil, &TokenError{Kind: kind, Op: grant, StatusCode: resp.StatusCode, Err: cause}
	}

	var result TokenResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TokenError{Kind: ErrProtocol, Op: grant, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if result.AccessToken == "" {
		return nil, &TokenError{Kind: ErrProtocol, Op: grant, StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}

	c.logger.Debug("Token request succeeded",
		"grant", grant,
		"expires_in", result.ExpiresIn,
		"has_refresh_token", result.RefreshToken != "",
		"has_id_token", result.IDToken != "")

	return &result, nil
}

// DiscoverMetadata fetches {issuer}/.well-known/openid-configuration.
// Results are cached with a TTL and concurrent fetches for one issuer share a request.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if m := c.cachedMetadata(issuer); m != nil {
		return m, nil
	}

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		if m := c.cachedMetadata(issuer); m != nil {
			return m, nil
		}
		return c.fetchMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

// ResolveEndpoints fills the authorization and token endpoints from discovery
// when they are not configured explicitly.
func (c *Client) ResolveEndpoints(ctx context.Context, issuer string) error {
	e := c.Endpoints()
	if e.AuthorizationEndpoint != "" && e.TokenEndpoint != "" {
		return nil
	}

	metadata, err := c.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return err
	}
	if !metadata.SupportsPKCE() {
		return fmt.Errorf("issuer %s does not support S256 PKCE", issuer)
	}

	c.endpointsMu.Lock()
	if c.endpoints.AuthorizationEndpoint == "" {
		c.endpoints.AuthorizationEndpoint = metadata.AuthorizationEndpoint
	}
	if c.endpoints.TokenEndpoint == "" {
		c.endpoints.TokenEndpoint = metadata.TokenEndpoint
	}
	c.endpointsMu.Unlock()

	return nil
}

func (c *Client) cachedMetadata(issuer string) *Metadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	if entry, ok := c.metadataCache[issuer]; ok && time.Since(entry.fetchedAt) < c.metadataTTL {
		return entry.metadata
	}
	return nil
}

func (c *Client) fetchMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnownURL := issuer + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to discover metadata for %s: %w", issuer, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request for %s failed with status %d", issuer, resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{metadata: &metadata, fetchedAt: time.Now()}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached provider metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)

	return &metadata, nil
}
