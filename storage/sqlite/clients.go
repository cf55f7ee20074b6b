package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// SaveClient inserts or replaces a client. A non-empty secret is hashed with
// bcrypt and replaces ClientSecretHash.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client, secret string) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	c := *client
	if secret != "" {
		hash, err := storage.HashSecret(secret)
		if err != nil {
			return err
		}
		c.ClientSecretHash = hash
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO clients (
    client_id, client_secret_hash, client_name, redirect_uris, scopes,
    token_endpoint_auth_method, grant_types, response_types, jwks, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (client_id) DO UPDATE SET
    client_secret_hash = excluded.client_secret_hash,
    client_name = excluded.client_name,
    redirect_uris = excluded.redirect_uris,
    scopes = excluded.scopes,
    token_endpoint_auth_method = excluded.token_endpoint_auth_method,
    grant_types = excluded.grant_types,
    response_types = excluded.response_types,
    jwks = excluded.jwks`,
		c.ClientID, c.ClientSecretHash, c.ClientName, util.JoinList(c.RedirectURIs), util.JoinList(c.Scopes),
		c.TokenEndpointAuthMethod, util.JoinList(c.GrantTypes), joinResponseTypes(c.ResponseTypes), c.JWKS, toMillis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var (
		c                                               storage.Client
		redirectURIs, scopes, grantTypes, responseTypes string
		createdAt                                       int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT client_id, client_secret_hash, client_name, redirect_uris, scopes,
       token_endpoint_auth_method, grant_types, response_types, jwks, created_at
FROM clients WHERE client_id = ?`, clientID).Scan(
		&c.ClientID, &c.ClientSecretHash, &c.ClientName, &redirectURIs, &scopes,
		&c.TokenEndpointAuthMethod, &grantTypes, &responseTypes, &c.JWKS, &createdAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	c.RedirectURIs = util.SplitList(redirectURIs)
	c.Scopes = util.SplitList(scopes)
	c.GrantTypes = util.SplitList(grantTypes)
	c.ResponseTypes = splitResponseTypes(responseTypes)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// ValidateClientSecret validates a client's secret using bcrypt. A
// comparison runs even for unknown clients.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	var hash string
	if client, err := s.GetClient(ctx, clientID); err == nil {
		hash = client.ClientSecretHash
	}
	if !storage.CompareSecret(hash, secret) {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// SaveUser inserts or replaces a user. A non-empty password is hashed with
// bcrypt and replaces PasswordHash.
func (s *Store) SaveUser(ctx context.Context, user *storage.User, password string) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user ID is required")
	}

	u := *user
	if password != "" {
		hash, err := storage.HashSecret(password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}

	var username any
	if u.Username != "" {
		username = u.Username
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    username = excluded.username,
    password_hash = excluded.password_hash`,
		u.ID, username, u.PasswordHash, toMillis(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	return s.queryUser(ctx, `SELECT id, COALESCE(username, ''), password_hash, created_at FROM users WHERE id = ?`, userID)
}

// AuthenticateUser verifies a username and password
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	user, err := s.queryUser(ctx, `SELECT id, COALESCE(username, ''), password_hash, created_at FROM users WHERE username = ?`, username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	if !storage.CompareSecret(hash, password) {
		return nil, storage.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Store) queryUser(ctx context.Context, query string, arg string) (*storage.User, error) {
	var (
		u         storage.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// Response types such as "code id_token" contain spaces, so the column
// separates them with commas.
func joinResponseTypes(types []string) string {
	return strings.Join(types, ",")
}

func splitResponseTypes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
