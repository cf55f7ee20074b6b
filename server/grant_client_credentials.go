package server

import (
	"context"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// ClientCredentialsGrant issues access tokens to confidential clients acting
// on their own behalf (RFC 6749 section 4.4). No user, no refresh token.
type ClientCredentialsGrant struct {
	s *Server
}

var _ GrantTypeHandler = (*ClientCredentialsGrant)(nil)

// NewClientCredentialsGrant returns the client credentials grant bound to s.
func NewClientCredentialsGrant(s *Server) *ClientCredentialsGrant {
	return &ClientCredentialsGrant{s: s}
}

func (g *ClientCredentialsGrant) Name() string { return GrantTypeClientCredentials }

func (g *ClientCredentialsGrant) GrantType() string { return GrantTypeClientCredentials }

func (g *ClientCredentialsGrant) Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error) {
	if client.IsPublic() {
		return nil, ErrUnauthorizedClient("public clients cannot use client_credentials")
	}

	scopes, audience, err := g.s.resolveScopesAndAudience(ctx, req, client, nil, util.SplitList(req.Get("scope")))
	if err != nil {
		return nil, err
	}

	return g.s.issue(ctx, req, IssueRequest{
		Client:    client,
		Scopes:    scopes,
		Audience:  audience,
		GrantType: GrantTypeClientCredentials,
	})
}
