package valkey

import (
	"context"
	"fmt"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// CreateAuthorizationCode saves an authorization code until it expires
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateStringLength(code.Code, MaxTokenLength, "authorization code"); err != nil {
		return err
	}

	if err := s.createRecord(ctx, s.codeKey(code.Code), "", fieldUsed, toAuthorizationCodeJSON(code), code.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, used, found, err := s.getRecord(ctx, s.codeKey(code), fieldUsed)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return s.decodeCode(data, used)
}

// ConsumeAuthorizationCode atomically marks an authorization code as used
// using a Lua script. A code that was already used is returned together
// with storage.ErrAuthorizationCodeUsed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, alreadyUsed, found, err := s.consumeRecord(ctx, s.codeKey(code), fieldUsed)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	authCode, err := s.decodeCode(data, true)
	if err != nil {
		return nil, err
	}
	if alreadyUsed {
		s.logger.Warn("Authorization code reuse detected",
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
			"client_id", authCode.ClientID)
		return authCode, storage.ErrAuthorizationCodeUsed
	}
	return authCode, nil
}

// RevokeAuthorizationCode deletes an authorization code
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) error {
	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	if deleted == 0 {
		return storage.ErrAuthorizationCodeNotFound
	}
	return nil
}

func (s *Store) decodeCode(data string, used bool) (*storage.AuthorizationCode, error) {
	var j authorizationCodeJSON
	if err := s.open(data, &j); err != nil {
		return nil, err
	}
	return fromAuthorizationCodeJSON(&j, used), nil
}
