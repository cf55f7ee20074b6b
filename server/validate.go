package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// ErrInvalidAccessToken is returned by ValidateAccessToken for unknown,
// revoked, expired or not yet valid tokens.
var ErrInvalidAccessToken = errors.New("access token is invalid")

// ValidateAccessToken looks up a bearer access token for a protected resource
// and returns it when it is active.
func (s *Server) ValidateAccessToken(ctx context.Context, value string) (*storage.AccessToken, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.validate_token")
	defer span.End()

	if value == "" {
		return nil, ErrInvalidAccessToken
	}

	at, err := s.store.GetAccessToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.Logger.Debug("Unknown access token", "token_prefix", util.SafeTruncate(value, 8))
			return nil, ErrInvalidAccessToken
		}
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}

	if !at.IsActive(s.now()) {
		s.Logger.Debug("Inactive access token",
			"client_id", at.ClientID,
			"token_prefix", util.SafeTruncate(value, 8),
			"revoked", at.Revoked)
		return nil, ErrInvalidAccessToken
	}
	return at, nil
}
