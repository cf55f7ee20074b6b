package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	oauth "github.com/giantswarm/oauth2-core"
	"github.com/giantswarm/oauth2-core/storage"
)

const loginRealm = "authserver"

// basicAuthLogin authenticates the resource owner with HTTP Basic
// credentials. It stands in for a real login page in this example server.
func basicAuthLogin(users storage.UserStore, logger *slog.Logger) oauth.UserResolver {
	return func(w http.ResponseWriter, r *http.Request) (*storage.User, error) {
		username, password, ok := r.BasicAuth()
		if !ok {
			challenge(w)
			return nil, oauth.ErrLoginRequired
		}

		user, err := users.AuthenticateUser(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
				logger.Debug("Login failed", "username", username)
				challenge(w)
				return nil, oauth.ErrLoginRequired
			}
			return nil, fmt.Errorf("failed to authenticate user: %w", err)
		}
		return user, nil
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", loginRealm))
	http.Error(w, "Login required", http.StatusUnauthorized)
}
