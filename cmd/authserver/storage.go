package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
	"github.com/giantswarm/oauth2-core/storage/memory"
	"github.com/giantswarm/oauth2-core/storage/sqlite"
	"github.com/giantswarm/oauth2-core/storage/valkey"
)

// seeder is implemented by every adapter that can register clients and users
type seeder interface {
	SaveClient(ctx context.Context, client *storage.Client, secret string) error
	SaveUser(ctx context.Context, user *storage.User, password string) error
}

// backend is an opened storage adapter with its lifecycle hooks
type backend struct {
	store  storage.Adapter
	seeder seeder
	close  func()

	// sweep deletes expired records. Nil when the adapter expires them itself.
	sweep func(ctx context.Context) (int64, error)
}

func openBackend(cfg StorageConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (*backend, error) {
	switch cfg.Type {
	case "memory":
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		return &backend{store: store, seeder: store, close: store.Stop}, nil

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		store.SetLogger(logger)
		return &backend{
			store:  store,
			seeder: store,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close sqlite storage", "error", err)
				}
			},
			sweep: store.DeleteExpired,
		}, nil

	case "valkey":
		store, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		if cfg.Valkey.EncryptionKey != "" {
			key, err := base64.StdEncoding.DecodeString(cfg.Valkey.EncryptionKey)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("invalid valkey encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("invalid valkey encryption key: %w", err)
			}
			store.SetEncryptor(enc)
		}
		return &backend{store: store, seeder: store, close: store.Close}, nil
	}

	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// seed registers the configured clients and users. Saving is an upsert, so
// restarting with the same configuration is harmless.
func seed(ctx context.Context, s seeder, clients []ClientConfig, users []UserConfig) error {
	now := time.Now()
	for _, c := range clients {
		authMethod := c.AuthMethod
		if authMethod == "" {
			authMethod = "client_secret_basic"
			if c.Secret == "" {
				authMethod = "none"
			}
		}
		responseTypes := c.ResponseTypes
		if len(responseTypes) == 0 {
			responseTypes = []string{"code"}
		}
		grantTypes := c.GrantTypes
		if len(grantTypes) == 0 {
			grantTypes = []string{"authorization_code", "refresh_token"}
		}

		client := &storage.Client{
			ClientID:                c.ID,
			ClientName:              c.Name,
			RedirectURIs:            c.RedirectURIs,
			Scopes:                  c.Scopes,
			TokenEndpointAuthMethod: authMethod,
			GrantTypes:              grantTypes,
			ResponseTypes:           responseTypes,
			JWKS:                    c.JWKS,
			CreatedAt:               now,
		}
		if err := s.SaveClient(ctx, client, c.Secret); err != nil {
			return fmt.Errorf("failed to save client %s: %w", c.ID, err)
		}
	}

	for _, u := range users {
		user := &storage.User{ID: u.ID, Username: u.Username, CreatedAt: now}
		if err := s.SaveUser(ctx, user, u.Password); err != nil {
			return fmt.Errorf("failed to save user %s: %w", u.ID, err)
		}
	}
	return nil
}

// runSweeper deletes expired records every period until ctx is done.
func runSweeper(ctx context.Context, period time.Duration, sweep func(context.Context) (int64, error), logger *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx)
			if err != nil {
				logger.Error("Failed to delete expired records", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("Deleted expired records", "count", n)
			}
		}
	}
}
