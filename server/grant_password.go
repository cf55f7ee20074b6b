package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// PasswordGrant implements the resource owner password credentials grant
// (RFC 6749 section 4.3).
type PasswordGrant struct {
	s *Server
}

var _ GrantTypeHandler = (*PasswordGrant)(nil)

// NewPasswordGrant returns the password grant bound to s.
func NewPasswordGrant(s *Server) *PasswordGrant {
	return &PasswordGrant{s: s}
}

func (g *PasswordGrant) Name() string { return GrantTypePassword }

func (g *PasswordGrant) GrantType() string { return GrantTypePassword }

func (g *PasswordGrant) Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error) {
	s := g.s

	username := req.Get("username")
	password := req.Get("password")
	if username == "" {
		return nil, ErrInvalidRequest("username is required")
	}
	if password == "" {
		return nil, ErrInvalidRequest("password is required")
	}

	user, err := s.store.AuthenticateUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
			if s.allowSecurityLog(ctx, "password:"+client.ClientID) {
				s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, "invalid_resource_owner_credentials")
			}
			// Same answer for unknown users and wrong passwords.
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		return nil, ErrServerError("failed to authenticate user").WithCause(err)
	}

	scopes, audience, err := s.resolveScopesAndAudience(ctx, req, client, user, util.SplitList(req.Get("scope")))
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, req, IssueRequest{
		Client:           client,
		UserID:           user.ID,
		Scopes:           scopes,
		Audience:         audience,
		GrantType:        GrantTypePassword,
		WithRefreshToken: client.CheckGrantType(GrantTypeRefreshToken),
	})
}
