package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-core/jose"
	"github.com/giantswarm/oauth2-core/storage"
)

// Client authentication method names (RFC 7591 token_endpoint_auth_method values)
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodNone              = "none"

	// ClientAssertionTypeJWTBearer is the only supported client_assertion_type (RFC 7523 section 2.2)
	ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// clientAuthFailedDescription is shared by every client authentication
// failure so callers cannot tell unknown clients from bad credentials.
const clientAuthFailedDescription = "client authentication failed"

// ClientAuthenticationMethod authenticates the client of a token, revocation
// or introspection request.
type ClientAuthenticationMethod interface {
	// Name is the token_endpoint_auth_method value
	Name() string

	// Recognizes reports whether the request carries credentials for this method
	Recognizes(req *Request) bool

	// Authenticate returns the client or an *Error
	Authenticate(ctx context.Context, req *Request) (*storage.Client, error)
}

// ClientAuthenticationMethods is an ordered registry; the first method that
// recognizes a request authenticates it.
type ClientAuthenticationMethods []ClientAuthenticationMethod

// Lookup returns the method registered under name.
func (m ClientAuthenticationMethods) Lookup(name string) (ClientAuthenticationMethod, bool) {
	for _, method := range m {
		if method.Name() == name {
			return method, true
		}
	}
	return nil, false
}

// Recognize returns the first method recognizing req.
func (m ClientAuthenticationMethods) Recognize(req *Request) (ClientAuthenticationMethod, bool) {
	for _, method := range m {
		if method.Recognizes(req) {
			return method, true
		}
	}
	return nil, false
}

// Names lists the registered method names in registry order.
func (m ClientAuthenticationMethods) Names() []string {
	names := make([]string, 0, len(m))
	for _, method := range m {
		names = append(names, method.Name())
	}
	return names
}

func (m ClientAuthenticationMethods) replace(method ClientAuthenticationMethod) ClientAuthenticationMethods {
	for i, existing := range m {
		if existing.Name() == method.Name() {
			m[i] = method
			return m
		}
	}
	return append(m, method)
}

func errClientAuthentication() *Error {
	return ErrInvalidClient(clientAuthFailedDescription)
}

// lookupClient resolves clientID and checks that it is registered for method.
func lookupClient(ctx context.Context, clients storage.ClientStore, clientID, method string) (*storage.Client, error) {
	client, err := clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, errClientAuthentication().WithCause(err)
		}
		return nil, ErrServerError("failed to load client").WithCause(err)
	}
	if !client.CheckAuthenticationMethod(method) {
		return nil, errClientAuthentication()
	}
	return client, nil
}

// verifySecret checks the secret through the client store
func verifySecret(ctx context.Context, clients storage.ClientStore, clientID, secret string) error {
	err := clients.ValidateClientSecret(ctx, clientID, secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInvalidClientCredentials), errors.Is(err, storage.ErrClientNotFound):
		return errClientAuthentication().WithCause(err)
	default:
		return ErrServerError("failed to validate client secret").WithCause(err)
	}
}

// authenticateSecret resolves clientID for method and checks secret. The
// secret is compared even when the lookup fails, so unknown clients, method
// mismatches and wrong secrets cost the same.
func authenticateSecret(ctx context.Context, clients storage.ClientStore, clientID, secret, method string) (*storage.Client, error) {
	client, lookupErr := lookupClient(ctx, clients, clientID, method)
	if lookupErr != nil && IsServerError(lookupErr) {
		return nil, lookupErr
	}
	if err := verifySecret(ctx, clients, clientID, secret); err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return client, nil
}

// ClientSecretBasic authenticates with HTTP Basic credentials (RFC 6749 section 2.3.1).
type ClientSecretBasic struct {
	Clients storage.ClientStore
	Realm   string
}

func (m *ClientSecretBasic) Name() string { return AuthMethodClientSecretBasic }

func (m *ClientSecretBasic) Recognizes(req *Request) bool {
	return strings.HasPrefix(req.Header.Get("Authorization"), "Basic ")
}

func (m *ClientSecretBasic) Authenticate(ctx context.Context, req *Request) (*storage.Client, error) {
	client, err := m.authenticate(ctx, req)
	if err != nil {
		oe := AsError(err)
		if oe.Code == ErrorCodeInvalidClient {
			oe = oe.WithHeader("WWW-Authenticate", `Basic realm="`+m.Realm+`"`)
		}
		return nil, oe
	}
	return client, nil
}

func (m *ClientSecretBasic) authenticate(ctx context.Context, req *Request) (*storage.Client, error) {
	clientID, secret, ok := parseBasicAuth(req.Header.Get("Authorization"))
	if !ok || clientID == "" {
		return nil, errClientAuthentication()
	}
	// A client_id in the body must agree with the Basic credentials.
	if bodyID := req.Form.Get("client_id"); bodyID != "" && bodyID != clientID {
		return nil, errClientAuthentication()
	}

	return authenticateSecret(ctx, m.Clients, clientID, secret, m.Name())
}

// parseBasicAuth decodes an HTTP Basic header. Both parts are form-urlencoded
// before base64 encoding (RFC 6749 section 2.3.1).
func parseBasicAuth(header string) (clientID, secret string, ok bool) {
	encoded, found := strings.CutPrefix(header, "Basic ")
	if !found {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	id, sec, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", false
	}
	if clientID, err = url.QueryUnescape(id); err != nil {
		return "", "", false
	}
	if secret, err = url.QueryUnescape(sec); err != nil {
		return "", "", false
	}
	return clientID, secret, true
}

// ClientSecretPost authenticates with client_id and client_secret in the body.
type ClientSecretPost struct {
	Clients storage.ClientStore
}

func (m *ClientSecretPost) Name() string { return AuthMethodClientSecretPost }

func (m *ClientSecretPost) Recognizes(req *Request) bool {
	return req.Form.Get("client_id") != "" && req.Form.Has("client_secret")
}

func (m *ClientSecretPost) Authenticate(ctx context.Context, req *Request) (*storage.Client, error) {
	return authenticateSecret(ctx, m.Clients, req.Form.Get("client_id"), req.Form.Get("client_secret"), m.Name())
}

// NoneAuthentication identifies public clients by client_id alone.
type NoneAuthentication struct {
	Clients storage.ClientStore
}

func (m *NoneAuthentication) Name() string { return AuthMethodNone }

func (m *NoneAuthentication) Recognizes(req *Request) bool {
	return req.Get("client_id") != "" &&
		!req.Form.Has("client_secret") &&
		!req.Form.Has("client_assertion") &&
		req.Header.Get("Authorization") == ""
}

func (m *NoneAuthentication) Authenticate(ctx context.Context, req *Request) (*storage.Client, error) {
	return lookupClient(ctx, m.Clients, req.Get("client_id"), m.Name())
}

// ClientAssertion authenticates with a signed JWT (RFC 7523 section 2.2).
// One instance serves private_key_jwt (asymmetric algorithms) and another
// client_secret_jwt (HMAC); the assertion's alg header selects between them.
type ClientAssertion struct {
	Method     string
	Algorithms []string

	Clients  storage.ClientStore
	Verifier jose.Verifier
	Keys     storage.ClientAssertionKeyResolver // optional
	Replay   storage.AssertionReplayStore       // optional

	// Audiences lists accepted aud values (token endpoint URL and issuer)
	Audiences   []string
	ClockSkew   time.Duration
	MaxLifetime time.Duration
	Now         func() time.Time
}

func (m *ClientAssertion) Name() string { return m.Method }

func (m *ClientAssertion) Recognizes(req *Request) bool {
	if !req.Form.Has("client_assertion_type") && !req.Form.Has("client_assertion") {
		return false
	}
	header, _, err := m.Verifier.Decode(req.Form.Get("client_assertion"))
	if err != nil {
		return false
	}
	return slices.Contains(m.Algorithms, header.Algorithm)
}

func (m *ClientAssertion) Authenticate(ctx context.Context, req *Request) (*storage.Client, error) {
	if req.Form.Get("client_assertion_type") != ClientAssertionTypeJWTBearer {
		return nil, errClientAuthentication()
	}

	token := req.Form.Get("client_assertion")
	header, mapClaims, err := m.Verifier.Decode(token)
	if err != nil {
		return nil, errClientAuthentication().WithCause(err)
	}

	claims, err := parseAssertionClaims(mapClaims)
	if err != nil {
		return nil, errClientAuthentication().WithCause(err)
	}
	// iss and sub both name the client (RFC 7523 section 3)
	if claims.Issuer == "" || claims.Issuer != claims.Subject {
		return nil, errClientAuthentication()
	}
	if bodyID := req.Form.Get("client_id"); bodyID != "" && bodyID != claims.Subject {
		return nil, errClientAuthentication()
	}
	if err := claims.validate(m.Now(), m.Audiences, m.MaxLifetime, m.ClockSkew); err != nil {
		return nil, errClientAuthentication().WithCause(err)
	}

	client, err := lookupClient(ctx, m.Clients, claims.Subject, m.Method)
	if err != nil {
		return nil, err
	}

	key, err := m.resolveKey(ctx, client, header)
	if err != nil {
		if IsServerError(err) {
			return nil, err
		}
		return nil, errClientAuthentication().WithCause(err)
	}
	if err := m.Verifier.Verify(token, key, m.Algorithms...); err != nil {
		return nil, errClientAuthentication().WithCause(err)
	}

	if m.Replay != nil {
		if err := m.Replay.MarkAssertionUsed(ctx, claims.Issuer, claims.ID, claims.ExpiresAt); err != nil {
			if errors.Is(err, storage.ErrAssertionReplayed) {
				return nil, errClientAuthentication().WithCause(err)
			}
			return nil, ErrServerError("failed to record client assertion").WithCause(err)
		}
	}

	return client, nil
}

func (m *ClientAssertion) resolveKey(ctx context.Context, client *storage.Client, header *jose.Header) (any, error) {
	if m.Keys != nil {
		key, err := m.Keys.ClientAssertionKey(ctx, client, header.KeyID, header.Algorithm)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, jose.ErrKeyNotFound) {
			return nil, ErrServerError("failed to resolve client assertion key").WithCause(err)
		}
	}
	if m.Method != AuthMethodPrivateKeyJWT || client.JWKS == "" {
		return nil, jose.ErrKeyNotFound
	}
	set, err := jose.ParseKeySet([]byte(client.JWKS))
	if err != nil {
		return nil, err
	}
	return jose.KeyFromSet(set, header.KeyID, header.Algorithm)
}

// authenticateClient runs the first recognizing method and records failures.
func (s *Server) authenticateClient(ctx context.Context, req *Request) (*storage.Client, error) {
	method, ok := s.clientAuthMethods.Recognize(req)
	if !ok {
		s.recordClientAuthFailure(ctx, req, "", "unrecognized")
		return nil, errClientAuthentication()
	}

	client, err := method.Authenticate(ctx, req)
	if err != nil {
		oe := AsError(err)
		if oe.Code == ErrorCodeInvalidClient {
			s.recordClientAuthFailure(ctx, req, req.Get("client_id"), method.Name())
			if oe.Status == 0 {
				oe.Status = http.StatusUnauthorized
			}
		}
		return nil, oe
	}
	return client, nil
}

func (s *Server) recordClientAuthFailure(ctx context.Context, req *Request, clientID, method string) {
	s.metrics.RecordClientAuthFailure(ctx, method)
	if s.allowSecurityLog(ctx, "client_auth:"+req.ClientIP) {
		s.Logger.Debug("Client authentication failed",
			"client_id", clientID,
			"method", method,
			"client_ip", req.ClientIP)
		s.Auditor.LogClientAuthFailure(clientID, method, req.ClientIP)
	}
}
