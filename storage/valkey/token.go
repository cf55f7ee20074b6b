package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// CreateAccessToken saves an access token until it expires and records it in its family
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil {
		return fmt.Errorf("invalid access token")
	}
	if err := validateStringLength(token.ID, MaxTokenLength, "access token"); err != nil {
		return err
	}

	key := s.accessTokenKey(token.ID)
	if err := s.createRecord(ctx, key, s.optionalFamilyKey(token.FamilyID), fieldRevoked, toTokenJSON(&token.Token, ""), token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token, including revoked ones
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	data, revoked, found, err := s.getRecord(ctx, s.accessTokenKey(token), fieldRevoked)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrTokenNotFound
	}

	var j tokenJSON
	if err := s.open(data, &j); err != nil {
		return nil, err
	}
	return &storage.AccessToken{Token: fromTokenJSON(&j, revoked)}, nil
}

// RevokeAccessToken marks an access token as revoked
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	_, _, found, err := s.consumeRecord(ctx, s.accessTokenKey(token), fieldRevoked)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrTokenNotFound
	}
	return nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken saves a refresh token until it expires and records it in its family
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil {
		return fmt.Errorf("invalid refresh token")
	}
	if err := validateStringLength(token.ID, MaxTokenLength, "refresh token"); err != nil {
		return err
	}

	key := s.refreshTokenKey(token.ID)
	if err := s.createRecord(ctx, key, s.optionalFamilyKey(token.FamilyID), fieldRevoked, toTokenJSON(&token.Token, token.AccessTokenID), token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.ID, tokenIDLogLength),
		"family_id", util.SafeTruncate(token.FamilyID, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token, including revoked ones
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, revoked, found, err := s.getRecord(ctx, s.refreshTokenKey(token), fieldRevoked)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrTokenNotFound
	}
	return s.decodeRefreshToken(data, revoked)
}

// ConsumeRefreshToken atomically revokes a refresh token using a Lua script.
// A token that was already revoked is returned with storage.ErrTokenRevoked.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, alreadyRevoked, found, err := s.consumeRecord(ctx, s.refreshTokenKey(token), fieldRevoked)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrTokenNotFound
	}

	rt, err := s.decodeRefreshToken(data, true)
	if err != nil {
		return nil, err
	}
	if alreadyRevoked {
		return rt, storage.ErrTokenRevoked
	}
	return rt, nil
}

// RevokeRefreshToken marks a refresh token as revoked
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	_, _, found, err := s.consumeRecord(ctx, s.refreshTokenKey(token), fieldRevoked)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrTokenNotFound
	}
	return nil
}

func (s *Store) decodeRefreshToken(data string, revoked bool) (*storage.RefreshToken, error) {
	var j tokenJSON
	if err := s.open(data, &j); err != nil {
		return nil, err
	}
	return &storage.RefreshToken{Token: fromTokenJSON(&j, revoked), AccessTokenID: j.AccessTokenID}, nil
}

// ============================================================
// Token Family Revocation
// ============================================================

// RevokeTokenFamily revokes every access and refresh token recorded in the family set
func (s *Store) RevokeTokenFamily(ctx context.Context, familyID string) (int, error) {
	if err := validateStringLength(familyID, MaxIDLength, "family ID"); err != nil {
		return 0, err
	}

	revoked, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeFamily).
			Numkeys(1).
			Key(s.familyKey(familyID)).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}

	s.logger.Info("Revoked token family",
		"family_id", util.SafeTruncate(familyID, tokenIDLogLength),
		"tokens_revoked", revoked)
	return int(revoked), nil
}

func (s *Store) optionalFamilyKey(familyID string) string {
	if familyID == "" {
		return ""
	}
	return s.familyKey(familyID)
}

// ============================================================
// AssertionReplayStore Implementation
// ============================================================

// MarkAssertionUsed records an assertion identifier until it expires
func (s *Store) MarkAssertionUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error {
	if err := validateStringLength(jti, MaxTokenLength, "assertion ID"); err != nil {
		return err
	}

	ttl := time.Until(expiresAt).Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	recorded, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkAssertion).
			Numkeys(1).
			Key(s.assertionKey(issuer, jti)).
			Arg(fmt.Sprintf("%d", ttl)).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to record assertion: %w", err)
	}
	if recorded == 0 {
		return storage.ErrAssertionReplayed
	}
	return nil
}
