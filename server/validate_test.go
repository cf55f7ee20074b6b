package server

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-core/internal/testutil"
	"github.com/giantswarm/oauth2-core/storage"
	"github.com/giantswarm/oauth2-core/storage/mock"
)

func TestValidateAccessToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	tokens := exchangeCode(t, srv, "openid")

	at, err := srv.ValidateAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if at.ClientID != testutil.TestClientID {
		t.Errorf("ClientID = %q, want %q", at.ClientID, testutil.TestClientID)
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := srv.ValidateAccessToken(ctx, "no-such-token"); !errors.Is(err, ErrInvalidAccessToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidAccessToken", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := srv.ValidateAccessToken(ctx, ""); !errors.Is(err, ErrInvalidAccessToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidAccessToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		now := srv.now
		srv.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { srv.now = now }()

		if _, err := srv.ValidateAccessToken(ctx, tokens.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidAccessToken", err)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		other := expectTokens(t, srv.HandleTokenRequest(ctx, tokenRequest(url.Values{
			"grant_type": {GrantTypeClientCredentials},
		})))
		if err := store.RevokeAccessToken(ctx, other.AccessToken); err != nil {
			t.Fatalf("RevokeAccessToken() error = %v", err)
		}
		if _, err := srv.ValidateAccessToken(ctx, other.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidAccessToken", err)
		}
	})
}

func TestValidateAccessToken_StorageFailure(t *testing.T) {
	adapter := mock.NewAdapter()
	adapter.GetAccessTokenFunc = func(context.Context, string) (*storage.AccessToken, error) {
		return nil, errTest
	}
	srv, err := New(adapter, &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = srv.ValidateAccessToken(context.Background(), "token")
	if err == nil || errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("ValidateAccessToken() error = %v, want storage failure", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("error should wrap the storage failure: %v", err)
	}
}
