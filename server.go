package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth2-core/server"
	"github.com/giantswarm/oauth2-core/storage"
)

// NewServer creates the engine and its HTTP handler in one step. Use
// server.New and NewHandler directly to customize the registries in between.
func NewServer(store storage.Adapter, serverConfig *server.Config, handlerConfig *Config, logger *slog.Logger) (*Handler, error) {
	srv, err := server.New(store, serverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return NewHandler(srv, handlerConfig, logger), nil
}
