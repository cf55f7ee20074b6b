package server

import (
	"context"
	"errors"
	"net/url"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// Grant type identifiers
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Grant is a registered authorization grant. A grant implements
// ResponseTypeHandler, GrantTypeHandler or both.
type Grant interface {
	Name() string
}

// ResponseTypeHandler is the authorization endpoint capability of a grant.
type ResponseTypeHandler interface {
	Grant

	// ResponseType is the space separated response_type this grant answers
	ResponseType() string

	// DefaultResponseMode is used when the request has no response_mode
	DefaultResponseMode() string

	// AllowsResponseMode reports whether the grant may answer through mode
	AllowsResponseMode(mode string) bool

	// Authorize returns the response parameters for an approved request.
	// state is added by the endpoint.
	Authorize(ctx context.Context, req *Request, client *storage.Client, user *storage.User) (url.Values, error)
}

// GrantTypeHandler is the token endpoint capability of a grant.
type GrantTypeHandler interface {
	Grant

	// GrantType is the grant_type value this grant answers
	GrantType() string

	// Token exchanges the request for tokens. client is already authenticated
	// and authorized for GrantType.
	Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error)
}

// Grants is an ordered registry of grants.
type Grants []Grant

// ResponseType returns the grant answering responseType. Components are
// compared order-insensitively, so "token id_token" equals "id_token token".
func (g Grants) ResponseType(responseType string) (ResponseTypeHandler, bool) {
	want := util.NormalizeList(responseType)
	if want == "" {
		return nil, false
	}
	for _, grant := range g {
		h, ok := grant.(ResponseTypeHandler)
		if ok && util.NormalizeList(h.ResponseType()) == want {
			return h, true
		}
	}
	return nil, false
}

// GrantType returns the grant answering grantType.
func (g Grants) GrantType(grantType string) (GrantTypeHandler, bool) {
	for _, grant := range g {
		h, ok := grant.(GrantTypeHandler)
		if ok && h.GrantType() == grantType {
			return h, true
		}
	}
	return nil, false
}

// Lookup returns the grant registered under name.
func (g Grants) Lookup(name string) (Grant, bool) {
	for _, grant := range g {
		if grant.Name() == name {
			return grant, true
		}
	}
	return nil, false
}

// ResponseTypes lists the response types of every registered grant.
func (g Grants) ResponseTypes() []string {
	var out []string
	for _, grant := range g {
		if h, ok := grant.(ResponseTypeHandler); ok {
			out = append(out, h.ResponseType())
		}
	}
	return out
}

// GrantTypes lists the grant types of every registered grant. Grants that
// only answer at the authorization endpoint are listed by name ("implicit").
func (g Grants) GrantTypes() []string {
	var out []string
	for _, grant := range g {
		if h, ok := grant.(GrantTypeHandler); ok {
			out = append(out, h.GrantType())
		} else {
			out = append(out, grant.Name())
		}
	}
	return out
}

func (g Grants) replace(grant Grant) Grants {
	for i, existing := range g {
		if existing.Name() == grant.Name() {
			g[i] = grant
			return g
		}
	}
	return append(g, grant)
}

// checkClientScope resolves the scopes a client receives. Adapters may
// implement storage.ScopeValidator; otherwise the requested scopes must be
// registered for the client and an empty request yields every registered scope.
func (s *Server) checkClientScope(ctx context.Context, client *storage.Client, requested []string) ([]string, error) {
	if v, ok := s.store.(storage.ScopeValidator); ok {
		scopes, err := v.CheckClientScope(ctx, client, requested)
		if err != nil {
			return nil, scopePolicyError(err)
		}
		return scopes, nil
	}

	if len(requested) == 0 {
		return append([]string(nil), client.Scopes...), nil
	}
	if !client.CheckScopes(requested) {
		return nil, ErrInvalidScope("requested scope is not allowed for this client")
	}
	return requested, nil
}

// scopePolicyError maps adapter scope and audience policy failures onto
// protocol errors.
func scopePolicyError(err error) *Error {
	if oe := asProtocolError(err); oe != nil {
		return oe
	}
	switch {
	case errors.Is(err, storage.ErrScopeNotAllowed):
		return ErrInvalidScope("requested scope is not allowed for this client")
	case errors.Is(err, storage.ErrAccessDenied):
		return ErrAccessDenied("the request was denied by policy")
	case errors.Is(err, storage.ErrUnknownResource):
		return ErrInvalidTarget("requested resource is not recognized")
	default:
		return ErrServerError("failed to apply scope policy").WithCause(err)
	}
}
