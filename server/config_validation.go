package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
)

const oauthSecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/rfc9700"

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if issuerURL.Fragment != "" || issuerURL.RawQuery != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}

	switch issuerURL.Scheme {
	case "https":
	case "http":
		if !isLocalhostHostname(issuerURL.Hostname()) && !c.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS (got %s://%s); set AllowInsecureHTTP=true to override",
				issuerURL.Scheme, issuerURL.Hostname())
		}
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	for name, endpoint := range map[string]string{
		"authorization endpoint": c.AuthorizationEndpoint,
		"token endpoint":         c.TokenEndpoint,
		"error page URL":         c.ErrorPageURL,
	} {
		u, err := url.Parse(endpoint)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%s must be an absolute URL (got %q)", name, endpoint)
		}
	}

	if c.AuthorizationCodeTTL < 0 || c.AccessTokenTTL < 0 || c.RefreshTokenTTL < 0 {
		return fmt.Errorf("token lifetimes must not be negative")
	}
	if c.ClockSkewGracePeriod < 0 {
		return fmt.Errorf("clock skew grace period must not be negative")
	}
	if c.MaxAssertionLifetime < 0 {
		return fmt.Errorf("max assertion lifetime must not be negative")
	}
	if c.TrustedProxyCount < 0 {
		return fmt.Errorf("trusted proxy count must not be negative")
	}

	return nil
}

// isLocalhostHostname reports whether hostname refers to the local machine.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DevelopmentMode {
		logger.Warn("SECURITY WARNING: Development mode is ENABLED",
			"risk", "Internal error details are returned to clients",
			"recommendation", "Disable DevelopmentMode in production")
	}
	if config.KeepAccessTokenOnRefresh {
		logger.Warn("SECURITY NOTICE: Access tokens survive refresh token rotation",
			"risk", "A leaked access token stays valid until it expires",
			"recommendation", "Leave KeepAccessTokenOnRefresh=false unless resource servers cannot cope",
			"learn_more", oauthSecurityBestPracticesURL)
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowInsecureHTTP {
		logger.Error("CRITICAL SECURITY WARNING: HTTP is explicitly allowed",
			"risk", "All OAuth tokens and credentials exposed to network interception",
			"recommendation", "Use HTTPS in all environments",
			"learn_more", oauthSecurityBestPracticesURL)
	}
}
