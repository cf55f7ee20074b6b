package server

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
)

// AuthorizationCodeGrant implements the authorization code grant with
// mandatory PKCE (RFC 6749 section 4.1, RFC 7636).
type AuthorizationCodeGrant struct {
	s *Server
}

var (
	_ ResponseTypeHandler = (*AuthorizationCodeGrant)(nil)
	_ GrantTypeHandler    = (*AuthorizationCodeGrant)(nil)
)

// NewAuthorizationCodeGrant returns the authorization code grant bound to s.
func NewAuthorizationCodeGrant(s *Server) *AuthorizationCodeGrant {
	return &AuthorizationCodeGrant{s: s}
}

func (g *AuthorizationCodeGrant) Name() string { return GrantTypeAuthorizationCode }
func (g *AuthorizationCodeGrant) ResponseType() string { return "code" }
func (g *AuthorizationCodeGrant) GrantType() string { return GrantTypeAuthorizationCode }
func (g *AuthorizationCodeGrant) DefaultResponseMode() string { return ResponseModeQuery }
func (g *AuthorizationCodeGrant) AllowsResponseMode(string) bool { return true }

// Authorize issues an authorization code bound to the client, user, redirect
// URI, scopes, audience and PKCE challenge.
func (g *AuthorizationCodeGrant) Authorize(ctx context.Context, req *Request, client *storage.Client, user *storage.User) (url.Values, error) {
	s := g.s

	challenge := req.Get("code_challenge")
	if challenge == "" {
		return nil, ErrInvalidRequest("code_challenge is required")
	}
	method := req.Get("code_challenge_method")
	if method == "" {
		method = storage.DefaultCodeChallengeMethod
	}
	if _, ok := s.pkceMethods.Lookup(method); !ok {
		return nil, ErrInvalidRequest("unsupported code_challenge_method")
	}
	if !validCodeVerifier(challenge) {
		return nil, ErrInvalidRequest("code_challenge must be 43-128 characters from the unreserved set")
	}

	scopes, audience, err := s.resolveScopesAndAudience(ctx, req, client, user, util.SplitList(req.Get("scope")))
	if err != nil {
		return nil, err
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		UserID:              user.ID,
		RedirectURI:         req.Get("redirect_uri"),
		Scopes:              scopes,
		Audience:            audience,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		FamilyID:            uuid.NewString(),
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authorizationCodeTTL()),
	}
	if err := s.store.CreateAuthorizationCode(ctx, code); err != nil {
		return nil, ErrServerError("failed to store authorization code").WithCause(err)
	}

	s.Logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"pkce_method", method,
		"code_prefix", util.SafeTruncate(code.Code, 8))

	return url.Values{"code": {code.Code}}, nil
}

// Token exchanges a code. The code is consumed before any check so it is
// burned whatever the outcome of this exchange.
func (g *AuthorizationCodeGrant) Token(ctx context.Context, req *Request, client *storage.Client) (*TokenResponse, error) {
	s := g.s

	ctx, span := s.tracer.Start(ctx, "oauth.exchange_authorization_code")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")

	codeValue := req.Get("code")
	verifier := req.Get("code_verifier")
	if codeValue == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if verifier == "" {
		return nil, ErrInvalidRequest("code_verifier is required")
	}

	code, err := s.store.ConsumeAuthorizationCode(ctx, codeValue)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeUsed):
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeReuse, true))
			g.handleCodeReuse(ctx, req, client, code)
			return nil, ErrInvalidGrant("invalid authorization code")
		case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
			return nil, ErrInvalidGrant("invalid authorization code")
		default:
			instrumentation.RecordError(span, err)
			return nil, ErrServerError("failed to consume authorization code").WithCause(err)
		}
	}

	if code.IsExpired(s.now()) {
		return nil, ErrInvalidGrant("authorization code has expired")
	}
	if code.ClientID != client.ClientID {
		s.Logger.Warn("Authorization code presented by another client",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(codeValue, 8))
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	// Absent on both sides is a match; absent on one side is not.
	if req.Get("redirect_uri") != code.RedirectURI {
		s.Auditor.LogInvalidRedirect(client.ClientID, req.ClientIP, req.Get("redirect_uri"))
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	instrumentation.AddPKCEAttributes(span, code.CodeChallengeMethod)
	if err := g.verifyPKCE(ctx, req, client, code, verifier); err != nil {
		instrumentation.SetSpanError(span, "pkce verification failed")
		return nil, err
	}

	resp, err := s.issue(ctx, req, IssueRequest{
		Client:           client,
		UserID:           code.UserID,
		Scopes:           code.Scopes,
		Audience:         code.Audience,
		GrantType:        GrantTypeAuthorizationCode,
		FamilyID:         code.FamilyID,
		WithRefreshToken: client.CheckGrantType(GrantTypeRefreshToken),
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordCodeExchange(ctx, code.CodeChallengeMethod)
	instrumentation.AddTokenFamilyAttributes(span, code.FamilyID)
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (g *AuthorizationCodeGrant) verifyPKCE(ctx context.Context, req *Request, client *storage.Client, code *storage.AuthorizationCode, verifier string) error {
	s := g.s

	method, ok := s.pkceMethods.Lookup(code.CodeChallengeMethod)
	if ok && validCodeVerifier(verifier) && method.Compare(code.CodeChallenge, verifier) {
		return nil
	}

	s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
	if s.allowSecurityLog(ctx, code.UserID+":"+client.ClientID) {
		s.Logger.Warn("PKCE verification failed",
			"client_id", client.ClientID,
			"method", code.CodeChallengeMethod,
			"client_ip", req.ClientIP)
		s.Auditor.LogInvalidPKCE(code.UserID, client.ClientID, req.ClientIP, code.CodeChallengeMethod)
	}
	return ErrInvalidGrant("code_verifier does not match the code_challenge")
}

// handleCodeReuse revokes every token issued from a replayed code.
func (g *AuthorizationCodeGrant) handleCodeReuse(ctx context.Context, req *Request, client *storage.Client, code *storage.AuthorizationCode) {
	s := g.s
	s.metrics.RecordCodeReuse(ctx)

	if code == nil {
		return
	}
	revoked := s.revokeFamily(ctx, code.FamilyID, "code_reuse")

	if s.allowSecurityLog(ctx, code.UserID+":"+client.ClientID) {
		s.Logger.Warn("Authorization code reuse detected",
			"client_id", client.ClientID,
			"family_id", code.FamilyID,
			"revoked_tokens", revoked,
			"client_ip", req.ClientIP)
		s.Auditor.LogCodeReuse(code.UserID, client.ClientID, req.ClientIP, revoked)
	}
}

// revokeFamily revokes a token family when the adapter supports it and
// returns the number of revoked tokens.
func (s *Server) revokeFamily(ctx context.Context, familyID, reason string) int {
	revoker, ok := s.store.(storage.TokenFamilyRevoker)
	if !ok || familyID == "" {
		return 0
	}
	n, err := revoker.RevokeTokenFamily(ctx, familyID)
	if err != nil {
		s.Logger.Error("Failed to revoke token family",
			"family_id", familyID,
			"reason", reason,
			"error", err)
		return n
	}
	s.metrics.RecordTokenFamilyRevoked(ctx, reason, n)
	s.Auditor.LogEvent(security.Event{
		Type:    security.EventTokenFamilyRevoked,
		Details: map[string]any{"family_id": familyID, "reason": reason, "revoked": n},
	})
	return n
}
