package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// Token type hints (RFC 7009 section 2.1)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// HandleRevocationRequest revokes an access or refresh token (RFC 7009).
// Unknown tokens and tokens of other clients are answered with 200 so the
// endpoint cannot be used to probe for valid tokens.
func (s *Server) HandleRevocationRequest(ctx context.Context, req *Request) *Response {
	ctx, span := s.tracer.Start(ctx, "oauth.revoke")
	defer span.End()

	if err := s.revoke(ctx, req); err != nil {
		return s.jsonError(ctx, "revocation", req, err)
	}
	resp := &Response{Status: http.StatusOK, Header: make(http.Header)}
	return resp.noStore()
}

func (s *Server) revoke(ctx context.Context, req *Request) error {
	if req.Method != http.MethodPost {
		return ErrInvalidRequest("revocation requests must use POST")
	}
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return err
	}

	value := req.Form.Get("token")
	if value == "" {
		return ErrInvalidRequest("token is required")
	}
	hint := req.Form.Get("token_type_hint")
	if hint != "" && hint != TokenTypeHintAccessToken && hint != TokenTypeHintRefreshToken {
		return ErrUnsupportedTokenType("unsupported token_type_hint")
	}

	// The hint only orders the lookups.
	lookups := []func() (bool, error){
		func() (bool, error) { return s.revokeAccessToken(ctx, req, client, value) },
		func() (bool, error) { return s.revokeRefreshToken(ctx, req, client, value) },
	}
	if hint == TokenTypeHintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, lookup := range lookups {
		found, err := lookup()
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}

	s.Logger.Debug("Revocation of unknown token ignored",
		"client_id", client.ClientID,
		"token_prefix", util.SafeTruncate(value, 8))
	return nil
}

func (s *Server) revokeAccessToken(ctx context.Context, req *Request, client *storage.Client, value string) (bool, error) {
	at, err := s.store.GetAccessToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, ErrServerError("failed to load access token").WithCause(err)
	}
	if at.ClientID != client.ClientID {
		s.logForeignRevocation(ctx, client, value)
		return true, nil
	}
	if err := s.store.RevokeAccessToken(ctx, value); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return false, ErrServerError("failed to revoke access token").WithCause(err)
	}

	s.metrics.RecordTokenRevocation(ctx, TokenTypeHintAccessToken)
	s.Auditor.LogTokenRevoked(at.UserID, client.ClientID, req.ClientIP, TokenTypeHintAccessToken)
	return true, nil
}

// revokeRefreshToken also revokes the access token issued with the refresh token.
func (s *Server) revokeRefreshToken(ctx context.Context, req *Request, client *storage.Client, value string) (bool, error) {
	if s.refresh == nil {
		return false, nil
	}
	rt, err := s.refresh.GetRefreshToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, ErrServerError("failed to load refresh token").WithCause(err)
	}
	if rt.ClientID != client.ClientID {
		s.logForeignRevocation(ctx, client, value)
		return true, nil
	}
	if err := s.refresh.RevokeRefreshToken(ctx, value); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return false, ErrServerError("failed to revoke refresh token").WithCause(err)
	}
	if rt.AccessTokenID != "" {
		if err := s.store.RevokeAccessToken(ctx, rt.AccessTokenID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
			s.Logger.Error("Failed to revoke access token of revoked refresh token",
				"client_id", client.ClientID,
				"error", err)
		}
	}

	s.metrics.RecordTokenRevocation(ctx, TokenTypeHintRefreshToken)
	s.Auditor.LogTokenRevoked(rt.UserID, client.ClientID, req.ClientIP, TokenTypeHintRefreshToken)
	return true, nil
}

func (s *Server) logForeignRevocation(ctx context.Context, client *storage.Client, value string) {
	if s.allowSecurityLog(ctx, "revoke:"+client.ClientID) {
		s.Logger.Warn("Client attempted to revoke another client's token",
			"client_id", client.ClientID,
			"token_prefix", util.SafeTruncate(value, 8))
	}
}
