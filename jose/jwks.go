package jose

import (
	"encoding/json"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
)

// ParseKeySet parses a JSON Web Key Set document.
func ParseKeySet(data []byte) (*gojose.JSONWebKeySet, error) {
	var set gojose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("JWKS contains no keys")
	}
	return &set, nil
}

// KeyFromSet selects the public verification key for a token header.
// With a kid the matching key is used; without one the set must contain
// exactly one signing key. Keys whose alg or use conflicts are skipped.
func KeyFromSet(set *gojose.JSONWebKeySet, keyID, algorithm string) (any, error) {
	if set == nil {
		return nil, ErrKeyNotFound
	}

	var candidates []gojose.JSONWebKey
	if keyID != "" {
		candidates = set.Key(keyID)
	} else {
		candidates = set.Keys
	}

	var usable []gojose.JSONWebKey
	for _, k := range candidates {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && algorithm != "" && k.Algorithm != algorithm {
			continue
		}
		usable = append(usable, k)
	}

	switch {
	case len(usable) == 0:
		return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, keyID)
	case keyID == "" && len(usable) > 1:
		return nil, fmt.Errorf("%w: no kid in token header and JWKS has %d keys", ErrKeyNotFound, len(usable))
	}

	// Private keys are never used for verification.
	return usable[0].Public().Key, nil
}
