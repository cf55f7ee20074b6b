package server

import (
	"context"
	"net/url"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// ImplicitGrant issues access tokens directly from the authorization
// endpoint (RFC 6749 section 4.2). Tokens never travel in a query string.
type ImplicitGrant struct {
	s *Server
}

var _ ResponseTypeHandler = (*ImplicitGrant)(nil)

// NewImplicitGrant returns the implicit grant bound to s.
func NewImplicitGrant(s *Server) *ImplicitGrant {
	return &ImplicitGrant{s: s}
}

func (g *ImplicitGrant) Name() string { return GrantTypeImplicit }

func (g *ImplicitGrant) ResponseType() string { return "token" }

func (g *ImplicitGrant) DefaultResponseMode() string { return ResponseModeFragment }

func (g *ImplicitGrant) AllowsResponseMode(mode string) bool {
	return mode != ResponseModeQuery
}

func (g *ImplicitGrant) Authorize(ctx context.Context, req *Request, client *storage.Client, user *storage.User) (url.Values, error) {
	scopes, audience, err := g.s.resolveScopesAndAudience(ctx, req, client, user, util.SplitList(req.Get("scope")))
	if err != nil {
		return nil, err
	}

	resp, err := g.s.issue(ctx, req, IssueRequest{
		Client:    client,
		UserID:    user.ID,
		Scopes:    scopes,
		Audience:  audience,
		GrantType: GrantTypeImplicit,
	})
	if err != nil {
		return nil, err
	}
	return resp.Values(), nil
}
