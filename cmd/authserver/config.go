package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix marks environment variables read as configuration.
// OAUTH2__SERVER__ISSUER sets server.issuer, OAUTH2__STORAGE__VALKEY__KEY_PREFIX
// sets storage.valkey.keyPrefix.
const envPrefix = "OAUTH2__"

// Config is the authserver configuration.
//
// Sources are loaded in this order, later ones overriding earlier ones:
// 1. Built-in defaults
// 2. The YAML file passed with -config, if any
// 3. Environment variables with the OAUTH2__ prefix
type Config struct {
	Listen  string         `koanf:"listen"`
	Log     LogConfig      `koanf:"log"`
	Server  ServerConfig   `koanf:"server"`
	Storage StorageConfig  `koanf:"storage"`
	Tracing TracingConfig  `koanf:"tracing"`
	CORS    CORSConfig     `koanf:"cors"`
	Clients []ClientConfig `koanf:"clients"`
	Users   []UserConfig   `koanf:"users"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// ServerConfig mirrors the protocol settings of server.Config
type ServerConfig struct {
	Issuer                   string  `koanf:"issuer"`
	AuthorizationCodeTTL     int64   `koanf:"authorizationCodeTtl"`
	AccessTokenTTL           int64   `koanf:"accessTokenTtl"`
	RefreshTokenTTL          int64   `koanf:"refreshTokenTtl"`
	KeepAccessTokenOnRefresh bool    `koanf:"keepAccessTokenOnRefresh"`
	DevelopmentMode          bool    `koanf:"developmentMode"`
	AllowInsecureHTTP        bool    `koanf:"allowInsecureHttp"`
	TrustProxy               bool    `koanf:"trustProxy"`
	TrustedProxyCount        int     `koanf:"trustedProxyCount"`
	AuditLogging             bool    `koanf:"auditLogging"`
	RateLimitPerSecond       float64 `koanf:"rateLimitPerSecond"`
	RateLimitBurst           int     `koanf:"rateLimitBurst"`
}

// StorageConfig selects and configures the storage adapter
type StorageConfig struct {
	Type          string       `koanf:"type"` // memory, sqlite or valkey
	SQLite        SQLiteConfig `koanf:"sqlite"`
	Valkey        ValkeyConfig `koanf:"valkey"`
	CleanupPeriod string       `koanf:"cleanupPeriod"`
}

// SQLiteConfig configures the sqlite adapter
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ValkeyConfig configures the valkey adapter
type ValkeyConfig struct {
	Address       string `koanf:"address"`
	Password      string `koanf:"password"`
	DB            int    `koanf:"db"`
	KeyPrefix     string `koanf:"keyPrefix"`
	EncryptionKey string `koanf:"encryptionKey"` // base64, 32 bytes
}

// TracingConfig enables the OpenTelemetry SDK providers
type TracingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"serviceName"`
	LogClientIPs bool   `koanf:"logClientIps"`
}

// CORSConfig is passed to the HTTP handler
type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowedOrigins"`
	AllowCredentials bool     `koanf:"allowCredentials"`
}

// ClientConfig registers a client at startup
type ClientConfig struct {
	ID            string   `koanf:"id"`
	Name          string   `koanf:"name"`
	Secret        string   `koanf:"secret"`
	AuthMethod    string   `koanf:"authMethod"`
	RedirectURIs  []string `koanf:"redirectUris"`
	Scopes        []string `koanf:"scopes"`
	GrantTypes    []string `koanf:"grantTypes"`
	ResponseTypes []string `koanf:"responseTypes"`
	JWKS          string   `koanf:"jwks"`
}

// UserConfig registers a resource owner at startup
type UserConfig struct {
	ID       string `koanf:"id"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// defaultConfig holds the built-in defaults, keyed by koanf path
func defaultConfig() map[string]any {
	return map[string]any{
		"listen":                    ":8080",
		"log.level":                 "info",
		"log.format":                "json",
		"server.issuer":             "http://localhost:8080",
		"server.trustedProxyCount":  1,
		"server.auditLogging":       true,
		"server.rateLimitPerSecond": 10.0,
		"server.rateLimitBurst":     20,
		"storage.type":              "memory",
		"storage.sqlite.path":       "authserver.db",
		"storage.valkey.address":    "localhost:6379",
		"storage.cleanupPeriod":     "5m",
		"tracing.serviceName":       "authserver",
	}
}

// loadConfig layers defaults, the optional YAML file and the environment.
func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultConfig(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory", "sqlite", "valkey":
	default:
		return fmt.Errorf("unknown storage type %q (want memory, sqlite or valkey)", c.Storage.Type)
	}
	if c.Server.Issuer == "" {
		return fmt.Errorf("server.issuer is required")
	}
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
	}
	for i, user := range c.Users {
		if user.ID == "" || user.Username == "" {
			return fmt.Errorf("users[%d]: id and username are required", i)
		}
	}
	return nil
}

// transformEnv maps OAUTH2__FOO_BAR__BAZ to fooBar.baz
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = capitalize(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
