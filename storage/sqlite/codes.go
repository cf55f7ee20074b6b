package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

const codeColumns = `code, client_id, user_id, redirect_uri, scopes, audience,
       code_challenge, code_challenge_method, family_id, created_at, expires_at, used`

// CreateAuthorizationCode inserts an authorization code
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code is required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO authorization_codes (`+codeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, util.JoinList(code.Scopes), util.JoinList(code.Audience),
		code.CodeChallenge, code.CodeChallengeMethod, code.FamilyID, toMillis(code.CreatedAt), toMillis(code.ExpiresAt), boolToInt(code.Used),
	)
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, 8),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM authorization_codes WHERE code = ?`, code)
	authCode, err := scanCode(row)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	return authCode, nil
}

// ConsumeAuthorizationCode marks the code used with a conditional UPDATE.
// When no unused row matches, the code either does not exist or was used
// before; the latter is returned with storage.ErrAuthorizationCodeUsed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE authorization_codes SET used = 1
WHERE code = ? AND used = 0
RETURNING `+codeColumns, code)
	authCode, err := scanCode(row)
	if err == nil {
		return authCode, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	authCode, err = s.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return authCode, storage.ErrAuthorizationCodeUsed
}

// RevokeAuthorizationCode deletes an authorization code
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	if !ok {
		return storage.ErrAuthorizationCodeNotFound
	}
	return nil
}

func scanCode(row *sql.Row) (*storage.AuthorizationCode, error) {
	var (
		c                    storage.AuthorizationCode
		scopes, audience     string
		createdAt, expiresAt int64
		used                 int
	)
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &scopes, &audience,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.FamilyID, &createdAt, &expiresAt, &used)
	if err != nil {
		return nil, err
	}
	c.Scopes = util.SplitList(scopes)
	c.Audience = util.SplitList(audience)
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	c.Used = used == 1
	return &c, nil
}
