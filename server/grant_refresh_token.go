package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// RefreshTokenGrant exchanges a refresh token for a new token pair (RFC 6749
// section 6). Every refresh token is single use: the presented token is
// consumed and a replacement in the same family is issued.
type RefreshTokenGrant struct {
	s *Server
}

var _ GrantTypeHandler = (*RefreshTokenGrant)(nil)

// NewRefreshTokenGrant returns the refresh token grant bound to s.
func NewRefreshTokenGrant(s *Server) *RefreshTokenGrant {
	return &RefreshTokenGrant{s: s}
}

func (g *RefreshTokenGrant) Name() string { return GrantTypeRefreshToken }

func (g *RefreshTokenGrant) GrantType() string { return GrantTypeRefreshToken }

func errInvalidRefreshToken() *Error {
	return ErrInvalidGrant("invalid refresh token")
}

func (g *RefreshTokenGrant) Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error) {
	s := g.s
	if s.refresh == nil {
		return nil, ErrUnsupportedGrantType("refresh tokens are not supported")
	}

	ctx, span := s.tracer.Start(ctx, "oauth.refresh_token")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")

	value := req.Get("refresh_token")
	if value == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	rt, err := s.refresh.GetRefreshToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, errInvalidRefreshToken()
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to load refresh token").WithCause(err)
	}
	instrumentation.AddTokenFamilyAttributes(span, rt.FamilyID)

	if rt.ClientID != client.ClientID {
		s.Logger.Warn("Refresh token presented by another client",
			"client_id", client.ClientID,
			"token_prefix", util.SafeTruncate(value, 8))
		return nil, errInvalidRefreshToken()
	}
	if rt.Revoked {
		g.handleReuse(ctx, req, client, rt)
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenReuse, true))
		return nil, errInvalidRefreshToken()
	}
	if !rt.IsActive(s.now()) {
		return nil, errInvalidRefreshToken()
	}

	scopes := rt.Scopes
	if requested := util.SplitList(req.Get("scope")); len(requested) > 0 {
		if !util.IsSubset(requested, rt.Scopes) {
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	audience := rt.Audience
	resources, err := parseResources(req)
	if err != nil {
		return nil, err
	}
	if len(resources) > 0 {
		if len(rt.Audience) > 0 && !util.IsSubset(resources, rt.Audience) {
			return nil, ErrInvalidTarget("resource was not part of the original grant")
		}
		var user *storage.User
		if rt.UserID != "" {
			if user, err = s.store.GetUser(ctx, rt.UserID); err != nil {
				if errors.Is(err, storage.ErrUserNotFound) {
					return nil, errInvalidRefreshToken()
				}
				return nil, ErrServerError("failed to load user").WithCause(err)
			}
		}
		if scopes, audience, err = s.negotiateAudience(ctx, resources, scopes, client, user); err != nil {
			return nil, err
		}
	}

	// Consume last: two concurrent refreshes of the same token cannot both get here.
	if _, err := s.refresh.ConsumeRefreshToken(ctx, value); err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenRevoked):
			g.handleReuse(ctx, req, client, rt)
			return nil, errInvalidRefreshToken()
		case errors.Is(err, storage.ErrTokenNotFound):
			return nil, errInvalidRefreshToken()
		default:
			instrumentation.RecordError(span, err)
			return nil, ErrServerError("failed to rotate refresh token").WithCause(err)
		}
	}

	if !s.Config.KeepAccessTokenOnRefresh && rt.AccessTokenID != "" {
		if err := s.store.RevokeAccessToken(ctx, rt.AccessTokenID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
			s.Logger.Error("Failed to revoke access token on refresh",
				"client_id", client.ClientID,
				"family_id", rt.FamilyID,
				"error", err)
		}
	}

	resp, err := s.issue(ctx, req, IssueRequest{
		Client:           client,
		UserID:           rt.UserID,
		Scopes:           scopes,
		Audience:         audience,
		GrantType:        GrantTypeRefreshToken,
		FamilyID:         rt.FamilyID,
		WithRefreshToken: true,
		RefreshScopes:    rt.Scopes,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordTokenRefresh(ctx)
	s.Auditor.LogTokenRefreshed(rt.UserID, client.ClientID, req.ClientIP, rt.FamilyID)
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// handleReuse revokes the family of a refresh token presented after rotation.
func (g *RefreshTokenGrant) handleReuse(ctx context.Context, req *Request, client *storage.Client, rt *storage.RefreshToken) {
	s := g.s
	s.metrics.RecordTokenReuse(ctx)

	if rt == nil {
		return
	}
	revoked := s.revokeFamily(ctx, rt.FamilyID, "refresh_token_reuse")

	if s.allowSecurityLog(ctx, rt.UserID+":"+client.ClientID) {
		s.Logger.Warn("Refresh token reuse detected",
			"client_id", client.ClientID,
			"family_id", rt.FamilyID,
			"revoked_tokens", revoked,
			"client_ip", req.ClientIP)
		s.Auditor.LogRefreshTokenReuse(rt.UserID, client.ClientID, req.ClientIP, revoked)
	}
}
