package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-core/internal/testutil"
	"github.com/giantswarm/oauth2-core/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "oauth.db"))
	require.NoError(t, err)
	store.SetLogger(testutil.DiscardLogger())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestCloseNilStore(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	client := testutil.GenerateTestClient()
	client.ResponseTypes = []string{"code", "code id_token"}
	require.NoError(t, store.SaveClient(ctx, client, testutil.TestClientSecret))

	got, err := store.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientName, got.ClientName)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.Scopes, got.Scopes)
	assert.Equal(t, client.GrantTypes, got.GrantTypes)
	assert.Equal(t, client.ResponseTypes, got.ResponseTypes)
	assert.Equal(t, client.TokenEndpointAuthMethod, got.TokenEndpointAuthMethod)
	assert.NotEqual(t, testutil.TestClientSecret, got.ClientSecretHash)

	require.NoError(t, store.ValidateClientSecret(ctx, client.ClientID, testutil.TestClientSecret))
	assert.ErrorIs(t, store.ValidateClientSecret(ctx, client.ClientID, "wrong"), storage.ErrInvalidClientCredentials)
	assert.ErrorIs(t, store.ValidateClientSecret(ctx, "unknown", "secret"), storage.ErrInvalidClientCredentials)

	_, err = store.GetClient(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestSaveClientUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	client := testutil.GenerateTestClient()
	require.NoError(t, store.SaveClient(ctx, client, testutil.TestClientSecret))

	client.ClientName = "Renamed"
	require.NoError(t, store.SaveClient(ctx, client, "new-secret"))

	got, err := store.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.ClientName)
	require.NoError(t, store.ValidateClientSecret(ctx, client.ClientID, "new-secret"))
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveUser(ctx, testutil.GenerateTestUser(), testutil.TestPassword))

	user, err := store.AuthenticateUser(ctx, testutil.TestUsername, testutil.TestPassword)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, user.ID)

	_, err = store.AuthenticateUser(ctx, testutil.TestUsername, "wrong")
	assert.ErrorIs(t, err, storage.ErrInvalidCredentials)
	_, err = store.AuthenticateUser(ctx, "nobody", testutil.TestPassword)
	assert.ErrorIs(t, err, storage.ErrInvalidCredentials)

	got, err := store.GetUser(ctx, testutil.TestUserID)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUsername, got.Username)

	_, err = store.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	code := testutil.GenerateTestAuthorizationCode()
	code.Audience = []string{"https://api.example.com"}
	require.NoError(t, store.CreateAuthorizationCode(ctx, code))
	assert.Error(t, store.CreateAuthorizationCode(ctx, code), "duplicate code must be rejected")

	got, err := store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.Scopes, got.Scopes)
	assert.Equal(t, code.Audience, got.Audience)
	assert.Equal(t, code.FamilyID, got.FamilyID)
	assert.WithinDuration(t, code.ExpiresAt, got.ExpiresAt, time.Millisecond)
	assert.False(t, got.Used)

	consumed, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.True(t, consumed.Used)

	again, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	require.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
	require.NotNil(t, again)
	assert.Equal(t, code.FamilyID, again.FamilyID)

	_, err = store.ConsumeAuthorizationCode(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)

	require.NoError(t, store.RevokeAuthorizationCode(ctx, code.Code))
	assert.ErrorIs(t, store.RevokeAuthorizationCode(ctx, code.Code), storage.ErrAuthorizationCodeNotFound)
}

func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, store.CreateAuthorizationCode(ctx, code))

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		reused    atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeAuthorizationCode(ctx, code.Code)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), reused.Load())
}

func TestAccessTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	token := testutil.GenerateTestAccessToken("family-1")
	require.NoError(t, store.CreateAccessToken(ctx, token))

	got, err := store.GetAccessToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, token.ClientID, got.ClientID)
	assert.True(t, got.IsActive(time.Now()))

	require.NoError(t, store.RevokeAccessToken(ctx, token.ID))
	got, err = store.GetAccessToken(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	_, err = store.GetAccessToken(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	assert.ErrorIs(t, store.RevokeAccessToken(ctx, "unknown"), storage.ErrTokenNotFound)
}

func TestTokenKindsAreSeparate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	access := testutil.GenerateTestAccessToken("family-1")
	require.NoError(t, store.CreateAccessToken(ctx, access))

	_, err := store.GetRefreshToken(ctx, access.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRefreshTokenRotation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	access := testutil.GenerateTestAccessToken("family-1")
	refresh := testutil.GenerateTestRefreshToken("family-1", access.ID)
	require.NoError(t, store.CreateAccessToken(ctx, access))
	require.NoError(t, store.CreateRefreshToken(ctx, refresh))

	got, err := store.GetRefreshToken(ctx, refresh.ID)
	require.NoError(t, err)
	assert.Equal(t, access.ID, got.AccessTokenID)

	consumed, err := store.ConsumeRefreshToken(ctx, refresh.ID)
	require.NoError(t, err)
	assert.True(t, consumed.Revoked)
	assert.Equal(t, access.ID, consumed.AccessTokenID)

	replayed, err := store.ConsumeRefreshToken(ctx, refresh.ID)
	require.ErrorIs(t, err, storage.ErrTokenRevoked)
	assert.Equal(t, "family-1", replayed.FamilyID)

	_, err = store.ConsumeRefreshToken(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRevokeTokenFamily(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	access := testutil.GenerateTestAccessToken("family-1")
	refresh := testutil.GenerateTestRefreshToken("family-1", access.ID)
	other := testutil.GenerateTestAccessToken("family-2")
	require.NoError(t, store.CreateAccessToken(ctx, access))
	require.NoError(t, store.CreateRefreshToken(ctx, refresh))
	require.NoError(t, store.CreateAccessToken(ctx, other))

	n, err := store.RevokeTokenFamily(ctx, "family-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.RevokeTokenFamily(ctx, "family-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.GetAccessToken(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked)

	_, err = store.RevokeTokenFamily(ctx, "")
	assert.Error(t, err)
}

func TestMarkAssertionUsed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	clock := testutil.NewMockTime(time.Now())
	store.now = clock.Now

	expiresAt := clock.Now().Add(5 * time.Minute)
	require.NoError(t, store.MarkAssertionUsed(ctx, "issuer", "jti-1", expiresAt))
	assert.ErrorIs(t, store.MarkAssertionUsed(ctx, "issuer", "jti-1", expiresAt), storage.ErrAssertionReplayed)
	require.NoError(t, store.MarkAssertionUsed(ctx, "other-issuer", "jti-1", expiresAt))

	clock.Advance(10 * time.Minute)
	require.NoError(t, store.MarkAssertionUsed(ctx, "issuer", "jti-1", clock.Now().Add(5*time.Minute)))
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	clock := testutil.NewMockTime(time.Now())
	store.now = clock.Now

	code := testutil.GenerateTestAuthorizationCode()
	access := testutil.GenerateTestAccessToken("family-1")
	refresh := testutil.GenerateTestRefreshToken("family-1", access.ID)
	require.NoError(t, store.CreateAuthorizationCode(ctx, code))
	require.NoError(t, store.CreateAccessToken(ctx, access))
	require.NoError(t, store.CreateRefreshToken(ctx, refresh))
	require.NoError(t, store.MarkAssertionUsed(ctx, "issuer", "jti-1", clock.Now().Add(5*time.Minute)))

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past code, assertion and access token lifetimes, inside the refresh token's.
	clock.Advance(2 * time.Hour)
	n, err = store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = store.GetAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	_, err = store.GetAccessToken(ctx, access.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = store.GetRefreshToken(ctx, refresh.ID)
	assert.NoError(t, err)
}
