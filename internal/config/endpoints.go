package config

import (
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// Endpoints returns the oauth.Endpoints for this provider. Explicit endpoints
// win over Domain. With only an Issuer configured the endpoint URLs are left
// empty for oauth.Client.ResolveEndpoints to fill in.
func (p ProviderConfig) Endpoints() oauth.Endpoints {
	e := oauth.Endpoints{
		ClientID:    p.ClientID,
		RedirectURI: p.RedirectURI,
		Scopes:      p.Scopes,
	}

	switch {
	case p.AuthorizationEndpoint != "" && p.TokenEndpoint != "":
		e.AuthorizationEndpoint = p.AuthorizationEndpoint
		e.TokenEndpoint = p.TokenEndpoint
	case p.Domain != "":
		e.AuthorizationEndpoint, e.TokenEndpoint = oauth.EndpointsForDomain(p.Domain)
	}
	return e
}

// NeedsDiscovery reports whether endpoints have to be discovered from Issuer.
func (p ProviderConfig) NeedsDiscovery() bool {
	e := p.Endpoints()
	return (e.AuthorizationEndpoint == "" || e.TokenEndpoint == "") && p.Issuer != ""
}
