package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-core/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a client. A non-empty secret is hashed with bcrypt and
// replaces ClientSecretHash.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client, secret string) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client ID"); err != nil {
		return err
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
		c.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toClientJSON(&c))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(c.ClientID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var j clientJSON
	found, err := s.getJSON(ctx, s.clientKey(clientID), &j)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if !found {
		return nil, storage.ErrClientNotFound
	}
	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison runs even for unknown clients so timing does not
// reveal which client IDs exist.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	var hash string
	client, err := s.GetClient(ctx, clientID)
	if err == nil {
		hash = client.ClientSecretHash
	}

	if !storage.CompareSecret(hash, clientSecret) {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser saves a resource owner. A non-empty password is hashed with
// bcrypt and replaces PasswordHash.
func (s *Store) SaveUser(ctx context.Context, user *storage.User, password string) error {
	if user == nil {
		return fmt.Errorf("invalid user")
	}
	if err := validateStringLength(user.ID, MaxIDLength, "user ID"); err != nil {
		return err
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
		u.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toUserJSON(&u))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	cmds := make(valkeygo.Commands, 0, 2)
	cmds = append(cmds, s.client.B().Set().Key(s.userKey(u.ID)).Value(string(data)).Build())
	if u.Username != "" {
		cmds = append(cmds, s.client.B().Set().Key(s.usernameKey(u.Username)).Value(u.ID).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	var j userJSON
	found, err := s.getJSON(ctx, s.userKey(userID), &j)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, storage.ErrUserNotFound
	}
	return fromUserJSON(&j), nil
}

// AuthenticateUser verifies a username and password
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	var user *storage.User
	userID, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(username)).Build()).ToString()
	switch {
	case err == nil:
		user, err = s.GetUser(ctx, userID)
		if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			return nil, err
		}
	case !isNilError(err):
		return nil, fmt.Errorf("failed to look up username: %w", err)
	}

	var hash string
	if user != nil && user.Username == username {
		hash = user.PasswordHash
	}
	if !storage.CompareSecret(hash, password) {
		return nil, storage.ErrInvalidCredentials
	}
	return user, nil
}
