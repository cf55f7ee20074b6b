package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// IntrospectionResponse is the RFC 7662 section 2.2 response.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
}

// HandleIntrospectionRequest reports the state of a token (RFC 7662). Only
// the client a token was issued to learns anything about it.
func (s *Server) HandleIntrospectionRequest(ctx context.Context, req *Request) *Response {
	ctx, span := s.tracer.Start(ctx, "oauth.introspect")
	defer span.End()

	result, err := s.introspect(ctx, req)
	if err != nil {
		return s.jsonError(ctx, "introspection", req, err)
	}
	s.metrics.RecordTokenIntrospection(ctx, result.Active)
	return NewJSONResponse(http.StatusOK, result).noStore()
}

func (s *Server) introspect(ctx context.Context, req *Request) (*IntrospectionResponse, error) {
	if req.Method != http.MethodPost {
		return nil, ErrInvalidRequest("introspection requests must use POST")
	}
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	value := req.Form.Get("token")
	if value == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	var token *storage.Token
	tokenType := TokenTypeBearer

	if req.Form.Get("token_type_hint") != TokenTypeHintRefreshToken {
		if token, err = s.findAccessToken(ctx, value); err != nil {
			return nil, err
		}
	}
	if token == nil && s.refresh != nil {
		rt, err := s.refresh.GetRefreshToken(ctx, value)
		switch {
		case err == nil:
			token = &rt.Token
			tokenType = TokenTypeHintRefreshToken
		case !errors.Is(err, storage.ErrTokenNotFound):
			return nil, ErrServerError("failed to load refresh token").WithCause(err)
		}
	}
	if token == nil && req.Form.Get("token_type_hint") == TokenTypeHintRefreshToken {
		if token, err = s.findAccessToken(ctx, value); err != nil {
			return nil, err
		}
	}

	if token == nil || token.ClientID != client.ClientID || !token.IsActive(s.now()) {
		return &IntrospectionResponse{Active: false}, nil
	}

	return &IntrospectionResponse{
		Active:    true,
		Scope:     util.JoinList(token.Scopes),
		ClientID:  token.ClientID,
		Subject:   token.UserID,
		TokenType: tokenType,
		ExpiresAt: token.ExpiresAt.Unix(),
		IssuedAt:  token.IssuedAt.Unix(),
		NotBefore: token.ValidAfter.Unix(),
		Audience:  token.Audience,
		Issuer:    s.Config.Issuer,
	}, nil
}

func (s *Server) findAccessToken(ctx context.Context, value string) (*storage.Token, error) {
	at, err := s.store.GetAccessToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, ErrServerError("failed to load access token").WithCause(err)
	}
	return &at.Token, nil
}
