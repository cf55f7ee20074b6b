package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/jose"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
)

// JWTBearerGrant exchanges a signed JWT assertion from a trusted issuer for
// an access token (RFC 7523 section 2.1). The assertion's subject names the
// user. No refresh token is issued.
type JWTBearerGrant struct {
	s *Server
}

var _ GrantTypeHandler = (*JWTBearerGrant)(nil)

// NewJWTBearerGrant returns the JWT bearer grant bound to s.
func NewJWTBearerGrant(s *Server) *JWTBearerGrant {
	return &JWTBearerGrant{s: s}
}

func (g *JWTBearerGrant) Name() string { return GrantTypeJWTBearer }

func (g *JWTBearerGrant) GrantType() string { return GrantTypeJWTBearer }

func (g *JWTBearerGrant) Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error) {
	s := g.s

	ctx, span := s.tracer.Start(ctx, "oauth.jwt_bearer")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")

	assertion := req.Get("assertion")
	if assertion == "" {
		return nil, ErrInvalidRequest("assertion is required")
	}

	header, mapClaims, err := s.verifier.Decode(assertion)
	if err != nil {
		return nil, g.reject(ctx, req, client, "malformed", err)
	}
	claims, err := parseAssertionClaims(mapClaims)
	if err != nil {
		return nil, g.reject(ctx, req, client, "malformed", err)
	}
	if err := claims.validate(s.now(), s.Config.assertionAudiences(), s.Config.maxAssertionLifetime(), s.Config.clockSkew()); err != nil {
		return nil, g.reject(ctx, req, client, "claims", err)
	}

	resolver, ok := s.store.(storage.JWTBearerKeyResolver)
	if !ok {
		return nil, g.reject(ctx, req, client, "untrusted_issuer", jose.ErrKeyNotFound)
	}
	key, err := resolver.AssertionIssuerKey(ctx, claims.Issuer, header.KeyID, header.Algorithm)
	if err != nil {
		if errors.Is(err, jose.ErrKeyNotFound) {
			return nil, g.reject(ctx, req, client, "untrusted_issuer", err)
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServerError("failed to resolve assertion key").WithCause(err)
	}
	if err := s.verifier.Verify(assertion, key, jose.AsymmetricAlgorithms...); err != nil {
		return nil, g.reject(ctx, req, client, "signature", err)
	}

	if replay, ok := s.store.(storage.AssertionReplayStore); ok {
		if err := replay.MarkAssertionUsed(ctx, claims.Issuer, claims.ID, claims.ExpiresAt); err != nil {
			if errors.Is(err, storage.ErrAssertionReplayed) {
				if s.allowSecurityLog(ctx, "assertion:"+claims.Issuer) {
					s.Auditor.LogEvent(security.Event{
						Type:      security.EventAssertionReplayDetected,
						ClientID:  client.ClientID,
						IPAddress: req.ClientIP,
						Details:   map[string]any{"issuer": claims.Issuer},
					})
				}
				return nil, g.reject(ctx, req, client, "replayed", err)
			}
			return nil, ErrServerError("failed to record assertion").WithCause(err)
		}
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, g.reject(ctx, req, client, "unknown_subject", err)
		}
		return nil, ErrServerError("failed to load user").WithCause(err)
	}

	scopes, audience, err := s.resolveScopesAndAudience(ctx, req, client, user, util.SplitList(req.Get("scope")))
	if err != nil {
		return nil, err
	}

	resp, err := s.issue(ctx, req, IssueRequest{
		Client:    client,
		UserID:    user.ID,
		Scopes:    scopes,
		Audience:  audience,
		GrantType: GrantTypeJWTBearer,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// reject records a refused assertion and returns the invalid_grant error.
func (g *JWTBearerGrant) reject(ctx context.Context, req *Request, client *storage.Client, reason string, cause error) *Error {
	s := g.s
	s.metrics.RecordAssertionRejected(ctx, reason)
	if s.allowSecurityLog(ctx, "assertion:"+client.ClientID) {
		s.Logger.Debug("JWT bearer assertion rejected",
			"client_id", client.ClientID,
			"reason", reason,
			"error", cause)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventAssertionRejected,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
			Details:   map[string]any{"reason": reason},
		})
	}
	return ErrInvalidGrant("invalid assertion").WithCause(cause)
}
