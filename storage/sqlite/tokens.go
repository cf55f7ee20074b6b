package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"

	tokenColumns = `id, client_id, user_id, scopes, audience, grant_type, family_id,
       access_token_id, issued_at, expires_at, valid_after, revoked`
)

func (s *Store) insertToken(ctx context.Context, kind string, t *storage.Token, accessTokenID string) error {
	if t.ID == "" {
		return fmt.Errorf("token ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tokens (kind, `+tokenColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, t.ID, t.ClientID, t.UserID, util.JoinList(t.Scopes), util.JoinList(t.Audience), t.GrantType, t.FamilyID,
		accessTokenID, toMillis(t.IssuedAt), toMillis(t.ExpiresAt), toMillis(t.ValidAfter), boolToInt(t.Revoked),
	)
	if err != nil {
		return fmt.Errorf("save %s token: %w", kind, err)
	}
	return nil
}

func (s *Store) getToken(ctx context.Context, kind, id string) (storage.Token, string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = ? AND kind = ?`, id, kind)
	t, accessTokenID, err := scanToken(row)
	if err != nil {
		if isNoRows(err) {
			return storage.Token{}, "", storage.ErrTokenNotFound
		}
		return storage.Token{}, "", fmt.Errorf("get %s token: %w", kind, err)
	}
	return t, accessTokenID, nil
}

func (s *Store) revokeToken(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE id = ? AND kind = ?`, id, kind)
	if err != nil {
		return fmt.Errorf("revoke %s token: %w", kind, err)
	}
	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("revoke %s token: %w", kind, err)
	}
	if !ok {
		return storage.ErrTokenNotFound
	}
	return nil
}

// CreateAccessToken inserts an access token
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	return s.insertToken(ctx, kindAccess, &token.Token, "")
}

// GetAccessToken retrieves an access token, including revoked ones
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	t, _, err := s.getToken(ctx, kindAccess, token)
	if err != nil {
		return nil, err
	}
	return &storage.AccessToken{Token: t}, nil
}

// RevokeAccessToken marks an access token as revoked
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	return s.revokeToken(ctx, kindAccess, token)
}

// CreateRefreshToken inserts a refresh token
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	return s.insertToken(ctx, kindRefresh, &token.Token, token.AccessTokenID)
}

// GetRefreshToken retrieves a refresh token, including revoked ones
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	t, accessTokenID, err := s.getToken(ctx, kindRefresh, token)
	if err != nil {
		return nil, err
	}
	return &storage.RefreshToken{Token: t, AccessTokenID: accessTokenID}, nil
}

// ConsumeRefreshToken revokes the token with a conditional UPDATE. A token
// that was already revoked is returned with storage.ErrTokenRevoked.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE tokens SET revoked = 1
WHERE id = ? AND kind = ? AND revoked = 0
RETURNING `+tokenColumns, token, kindRefresh)
	t, accessTokenID, err := scanToken(row)
	if err == nil {
		return &storage.RefreshToken{Token: t, AccessTokenID: accessTokenID}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	rt, err := s.GetRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return rt, storage.ErrTokenRevoked
}

// RevokeRefreshToken marks a refresh token as revoked
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.revokeToken(ctx, kindRefresh, token)
}

// RevokeTokenFamily revokes every live token issued under familyID
func (s *Store) RevokeTokenFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, fmt.Errorf("family ID is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE family_id = ? AND revoked = 0`, familyID)
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}

	s.logger.Info("Revoked token family",
		"family_id", util.SafeTruncate(familyID, 8),
		"tokens_revoked", n)
	return int(n), nil
}

func scanToken(row *sql.Row) (storage.Token, string, error) {
	var (
		t                               storage.Token
		scopes, audience, accessTokenID string
		issuedAt, expiresAt, validAfter int64
		revoked                         int
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.UserID, &scopes, &audience, &t.GrantType, &t.FamilyID,
		&accessTokenID, &issuedAt, &expiresAt, &validAfter, &revoked)
	if err != nil {
		return storage.Token{}, "", err
	}
	t.Scopes = util.SplitList(scopes)
	t.Audience = util.SplitList(audience)
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.ValidAfter = fromMillis(validAfter)
	t.Revoked = revoked == 1
	return t, accessTokenID, nil
}
