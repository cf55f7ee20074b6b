package jose

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnsupportedAlgorithm is returned for algorithms outside the allowed set.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrKeyNotFound is returned when no usable key matches the token header.
	ErrKeyNotFound = errors.New("verification key not found")
)

// AsymmetricAlgorithms are accepted for private_key_jwt and JWT bearer assertions.
var AsymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// SymmetricAlgorithms are accepted for client_secret_jwt assertions.
var SymmetricAlgorithms = []string{"HS256", "HS384", "HS512"}

// Header is the subset of the JOSE header the server needs.
type Header struct {
	Algorithm string
	KeyID     string
	Type      string
}

// Verifier decodes tokens and verifies their signatures.
type Verifier interface {
	// Decode parses the token without verifying it.
	Decode(token string) (*Header, jwt.MapClaims, error)

	// Verify checks the signature of token with key. When algorithms is not
	// empty the header's alg must be one of them.
	Verify(token string, key any, algorithms ...string) error
}

// Signer produces signed tokens.
type Signer interface {
	Sign(claims jwt.MapClaims, key any, algorithm, keyID string) (string, error)
}

// JWT implements Verifier and Signer.
type JWT struct{}

var (
	_ Verifier = (*JWT)(nil)
	_ Signer   = (*JWT)(nil)
)

// New returns a JWT collaborator.
func New() *JWT {
	return &JWT{}
}

// Decode parses the token without verifying the signature.
func (j *JWT) Decode(token string) (*Header, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(token, claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	header := &Header{}
	header.Algorithm, _ = parsed.Header["alg"].(string)
	header.KeyID, _ = parsed.Header["kid"].(string)
	header.Type, _ = parsed.Header["typ"].(string)
	if header.Algorithm == "" {
		return nil, nil, fmt.Errorf("%w: missing alg header", ErrMalformedToken)
	}
	return header, claims, nil
}

// Verify checks the signature only. Time based claims are not evaluated here.
func (j *JWT) Verify(token string, key any, algorithms ...string) error {
	if key == nil {
		return ErrKeyNotFound
	}

	opts := []jwt.ParserOption{jwt.WithoutClaimsValidation()}
	if len(algorithms) > 0 {
		opts = append(opts, jwt.WithValidMethods(algorithms))
	}

	_, err := jwt.NewParser(opts...).Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() == jwt.SigningMethodNone.Alg() {
			return nil, ErrUnsupportedAlgorithm
		}
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return ErrInvalidSignature
		case errors.Is(err, ErrUnsupportedAlgorithm):
			return ErrUnsupportedAlgorithm
		default:
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	return nil
}

// Sign signs claims with key. keyID is added as the kid header when set.
func (j *JWT) Sign(claims jwt.MapClaims, key any, algorithm, keyID string) (string, error) {
	if !slices.Contains(AsymmetricAlgorithms, algorithm) && !slices.Contains(SymmetricAlgorithms, algorithm) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	t := jwt.NewWithClaims(method, claims)
	if keyID != "" {
		t.Header["kid"] = keyID
	}
	signed, err := t.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
