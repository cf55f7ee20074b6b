package server

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/security"
)

// assertionClaims are the registered claims RFC 7523 requires of JWT
// assertions, used both for client authentication and the JWT bearer grant.
type assertionClaims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ID        string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
}

var (
	errAssertionMissingClaim = errors.New("assertion is missing a required claim")
	errAssertionAudience     = errors.New("assertion audience does not include this server")
	errAssertionExpired      = errors.New("assertion has expired")
	errAssertionNotYetValid  = errors.New("assertion is not yet valid")
	errAssertionTooLong      = errors.New("assertion lifetime exceeds the allowed maximum")
)

func parseAssertionClaims(claims jwt.MapClaims) (*assertionClaims, error) {
	out := &assertionClaims{}
	var err error

	if out.Issuer, err = claims.GetIssuer(); err != nil {
		return nil, fmt.Errorf("invalid iss claim: %w", err)
	}
	if out.Subject, err = claims.GetSubject(); err != nil {
		return nil, fmt.Errorf("invalid sub claim: %w", err)
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("invalid aud claim: %w", err)
	}
	out.Audience = aud

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, fmt.Errorf("invalid nbf claim: %w", err)
	}
	if nbf != nil {
		out.NotBefore = nbf.Time
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("invalid iat claim: %w", err)
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}

	if jti, ok := claims["jti"]; ok {
		s, isString := jti.(string)
		if !isString {
			return nil, fmt.Errorf("invalid jti claim")
		}
		out.ID = s
	}

	return out, nil
}

// validate checks the claim shape: iss, sub, aud, exp and jti are required;
// the audience must name this server; time claims are checked with clock skew.
func (c *assertionClaims) validate(now time.Time, audiences []string, maxLifetime, skew time.Duration) error {
	if c.Issuer == "" || c.Subject == "" || len(c.Audience) == 0 || c.ExpiresAt.IsZero() || c.ID == "" {
		return errAssertionMissingClaim
	}

	if !slices.ContainsFunc(c.Audience, func(aud string) bool {
		aud = util.NormalizeURL(aud)
		return slices.ContainsFunc(audiences, func(accepted string) bool {
			return util.NormalizeURL(accepted) == aud
		})
	}) {
		return errAssertionAudience
	}

	if security.IsExpiredWithGracePeriod(now, c.ExpiresAt, skew) {
		return errAssertionExpired
	}
	if maxLifetime > 0 && c.ExpiresAt.After(now.Add(maxLifetime+skew)) {
		return errAssertionTooLong
	}
	if security.IsNotYetValid(now, c.NotBefore, skew) || security.IsNotYetValid(now, c.IssuedAt, skew) {
		return errAssertionNotYetValid
	}
	return nil
}
