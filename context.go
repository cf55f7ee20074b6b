package oauth

import (
	"context"

	"github.com/giantswarm/oauth2-core/storage"
)

type contextKey string

const (
	userKey        contextKey = "user"
	accessTokenKey contextKey = "access_token"
)

// WithUser stores the authenticated resource owner in ctx. Login middleware
// placed in front of the authorization endpoint calls it.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the resource owner stored by WithUser.
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(userKey).(*storage.User)
	return user, ok && user != nil
}

// AccessTokenFromContext returns the access token validated by
// Handler.ValidateToken.
func AccessTokenFromContext(ctx context.Context) (*storage.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenKey).(*storage.AccessToken)
	return token, ok && token != nil
}

// ContextWithAccessToken creates a context carrying token.
//
// WARNING: This function should ONLY be used for testing. In production the
// token is set by the ValidateToken middleware after validation.
func ContextWithAccessToken(ctx context.Context, token *storage.AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}
