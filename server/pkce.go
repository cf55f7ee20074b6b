package server

import (
	"crypto/subtle"
	"regexp"

	"golang.org/x/oauth2"
)

// PKCE constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// codeVerifierPattern is the unreserved character set of RFC 7636 section 4.1.
var codeVerifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// PKCEMethod compares a code verifier against the challenge stored with an
// authorization code.
type PKCEMethod interface {
	Name() string
	Compare(challenge, verifier string) bool
}

// PlainPKCE compares challenge and verifier directly.
type PlainPKCE struct{}

func (PlainPKCE) Name() string { return PKCEMethodPlain }

func (PlainPKCE) Compare(challenge, verifier string) bool {
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
}

// S256PKCE compares base64url(SHA256(verifier)) against the challenge.
type S256PKCE struct{}

func (S256PKCE) Name() string { return PKCEMethodS256 }

func (S256PKCE) Compare(challenge, verifier string) bool {
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
}

// PKCEMethods is an ordered registry of PKCE methods.
type PKCEMethods []PKCEMethod

// DefaultPKCEMethods returns plain and S256.
func DefaultPKCEMethods() PKCEMethods {
	return PKCEMethods{S256PKCE{}, PlainPKCE{}}
}

// Lookup returns the method registered under name.
func (m PKCEMethods) Lookup(name string) (PKCEMethod, bool) {
	for _, method := range m {
		if method.Name() == name {
			return method, true
		}
	}
	return nil, false
}

// Names lists the registered method names in registry order.
func (m PKCEMethods) Names() []string {
	names := make([]string, 0, len(m))
	for _, method := range m {
		names = append(names, method.Name())
	}
	return names
}

// validCodeVerifier checks the length and character set of a verifier.
func validCodeVerifier(verifier string) bool {
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return false
	}
	return codeVerifierPattern.MatchString(verifier)
}
