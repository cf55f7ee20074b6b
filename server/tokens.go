package server

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "Bearer"

// TokenResponse is the successful token endpoint response (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Values encodes the response as authorization response parameters. Refresh
// tokens are never returned from the authorization endpoint.
func (r *TokenResponse) Values() url.Values {
	v := url.Values{}
	v.Set("access_token", r.AccessToken)
	v.Set("token_type", r.TokenType)
	v.Set("expires_in", strconv.FormatInt(r.ExpiresIn, 10))
	if r.Scope != "" {
		v.Set("scope", r.Scope)
	}
	return v
}

// IssueRequest describes the tokens a grant wants issued.
type IssueRequest struct {
	Client    *storage.Client
	UserID    string // empty for client-only grants
	Scopes    []string
	Audience  []string
	GrantType string

	// FamilyID links the new tokens to earlier ones from the same grant.
	// A new family is started when empty.
	FamilyID string

	// WithRefreshToken requests a refresh token. It is ignored when the
	// adapter cannot store refresh tokens.
	WithRefreshToken bool

	// RefreshScopes are the scopes of the refresh token. Defaults to Scopes.
	RefreshScopes []string
}

// TokenIssuer creates and persists opaque access and refresh tokens. Every
// token-issuing grant goes through it.
type TokenIssuer struct {
	access     storage.AccessTokenStore
	refresh    storage.RefreshTokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	generate   func() string
}

// CanIssueRefreshTokens reports whether the adapter stores refresh tokens.
func (t *TokenIssuer) CanIssueRefreshTokens() bool {
	return t.refresh != nil
}

// Issue creates an access token and, when requested and supported, a refresh token.
func (t *TokenIssuer) Issue(ctx context.Context, ir IssueRequest) (*TokenResponse, error) {
	now := t.now()
	familyID := ir.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}

	access := &storage.AccessToken{Token: storage.Token{
		ID:         t.generate(),
		ClientID:   ir.Client.ClientID,
		UserID:     ir.UserID,
		Scopes:     ir.Scopes,
		Audience:   ir.Audience,
		GrantType:  ir.GrantType,
		FamilyID:   familyID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(t.accessTTL),
		ValidAfter: now,
	}}
	if err := t.access.CreateAccessToken(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	resp := &TokenResponse{
		AccessToken: access.ID,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(t.accessTTL / time.Second),
		Scope:       util.JoinList(ir.Scopes),
	}

	if ir.WithRefreshToken && t.refresh != nil {
		scopes := ir.RefreshScopes
		if scopes == nil {
			scopes = ir.Scopes
		}
		refresh := &storage.RefreshToken{
			Token: storage.Token{
				ID:         t.generate(),
				ClientID:   ir.Client.ClientID,
				UserID:     ir.UserID,
				Scopes:     scopes,
				Audience:   ir.Audience,
				GrantType:  ir.GrantType,
				FamilyID:   familyID,
				IssuedAt:   now,
				ExpiresAt:  now.Add(t.refreshTTL),
				ValidAfter: now,
			},
			AccessTokenID: access.ID,
		}
		if err := t.refresh.CreateRefreshToken(ctx, refresh); err != nil {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		resp.RefreshToken = refresh.ID
	}

	return resp, nil
}

// issue wraps TokenIssuer.Issue with logging, auditing and metrics.
func (s *Server) issue(ctx context.Context, req *Request, ir IssueRequest) (*TokenResponse, error) {
	resp, err := s.tokens.Issue(ctx, ir)
	if err != nil {
		s.Logger.Error("Failed to issue tokens",
			"client_id", ir.Client.ClientID,
			"grant_type", ir.GrantType,
			"error", err)
		return nil, ErrServerError("failed to issue tokens").WithCause(err)
	}

	s.metrics.RecordTokenIssued(ctx, ir.GrantType, resp.RefreshToken != "")
	s.Auditor.LogTokenIssued(ir.UserID, ir.Client.ClientID, req.ClientIP, resp.Scope, ir.GrantType)
	s.Logger.Info("Issued tokens",
		"client_id", ir.Client.ClientID,
		"grant_type", ir.GrantType,
		"scope", resp.Scope,
		"refresh_token", resp.RefreshToken != "",
		"token_prefix", util.SafeTruncate(resp.AccessToken, 8))
	return resp, nil
}
