// Package strategy resolves, per connector, how to read an auth token out
// of a credential's decrypted fields and how to attach it to an outbound
// request. Most connectors are static bearer-token bundles; a handful need
// OAuth refresh-token exchange.
package strategy

import (
	"context"
	"strings"

	"github.com/personacore/core/internal/port/httpclient"
)

// Strategy answers the three questions the healthcheck engine and the
// execution engine's credential-resolution step need: is this an OAuth
// bundle, what is the current token, and how does the token attach to a
// request.
type Strategy interface {
	// Name identifies the strategy for registry lookups.
	Name() string

	// IsOAuth reports whether fields carries a refresh-token bundle.
	IsOAuth(fields map[string]string) bool

	// ResolveAuthToken returns the token to use, exchanging a refresh
	// token for a fresh access token when necessary. The empty string
	// with a nil error means no usable token field was found.
	ResolveAuthToken(ctx context.Context, metadata map[string]string, fields map[string]string) (string, error)

	// ApplyAuth sets the Authorization header (or equivalent) on headers.
	ApplyAuth(headers map[string]string, token string)
}

// Factory builds a Strategy. Strategies that never perform a network call
// (every builtin except Google's) ignore httpClient.
type Factory func(httpClient httpclient.Client) Strategy

var builtins = map[string]Factory{
	"google":  func(c httpclient.Client) Strategy { return &googleOAuthStrategy{http: c} },
	"clickup": func(httpclient.Client) Strategy { return &clickupStrategy{} },
	"default": func(httpclient.Client) Strategy { return &defaultStrategy{} },
}

// substringAliases maps a connector-name substring to the builtin strategy
// name it should resolve to, checked in map iteration order is NOT
// guaranteed, so entries must not overlap ambiguously.
var substringAliases = map[string]string{
	"google":  "google",
	"clickup": "clickup",
}

// Registry resolves a connector name (plus optional oauth_type metadata) to
// a Strategy, in this fallback order: exact match -> metadata override ->
// substring match -> default.
type Registry struct {
	exact map[string]Strategy
}

// NewRegistry builds a Registry with the three builtin strategies
// (google, clickup, default) pre-registered under their own names.
func NewRegistry(httpClient httpclient.Client) *Registry {
	r := &Registry{
		exact: make(map[string]Strategy),
	}
	for name, factory := range builtins {
		r.exact[name] = factory(httpClient)
	}
	return r
}

// Register adds or overrides an exact-name strategy, for connectors that
// need bespoke auth handling beyond the three builtins.
func (r *Registry) Register(name string, s Strategy) {
	r.exact[name] = s
}

// Resolve picks a Strategy for a connector, given its name and declared
// oauth_type metadata value (empty string if none).
func (r *Registry) Resolve(connectorName, oauthType string) Strategy {
	if s, ok := r.exact[connectorName]; ok {
		return s
	}
	if oauthType != "" {
		if s, ok := r.exact[oauthType]; ok {
			return s
		}
	}
	lower := strings.ToLower(connectorName)
	for substr, name := range substringAliases {
		if strings.Contains(lower, substr) {
			if s, ok := r.exact[name]; ok {
				return s
			}
		}
	}
	return r.exact["default"]
}
