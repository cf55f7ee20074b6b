package valkey

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for token strings (512 bytes)
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (userID, clientID, familyID)
	MaxIDLength = 256
)

// Record flag fields
const (
	fieldData    = "data"
	fieldUsed    = "used"
	fieldRevoked = "revoked"
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor seals code and token records at rest.
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Adapter              = (*Store)(nil)
	_ storage.RefreshTokenStore    = (*Store)(nil)
	_ storage.TokenFamilyRevoker   = (*Store)(nil)
	_ storage.AssertionReplayStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor used to seal code and token records.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Keys
// ============================================================
//
// Codes and tokens are bearer credentials, so their keys carry a SHA-256
// digest of the value instead of the value itself.

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *Store) usernameKey(username string) string {
	return s.prefix + "username:" + username
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + hashKey(code)
}

func (s *Store) accessTokenKey(token string) string {
	return s.prefix + "token:access:" + hashKey(token)
}

func (s *Store) refreshTokenKey(token string) string {
	return s.prefix + "token:refresh:" + hashKey(token)
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + "family:" + familyID
}

func (s *Store) assertionKey(issuer, jti string) string {
	return s.prefix + "jti:" + hashKey(issuer+"\x00"+jti)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaCreateRecord stores a record hash with its flag cleared and a TTL, and
// adds the record key to its family set when a family key is given. The
// family set's TTL only ever grows so it outlives every member.
//
// KEYS[1] = record key
// KEYS[2] = family key (optional)
// ARGV[1] = record data
// ARGV[2] = flag field ("used" or "revoked")
// ARGV[3] = TTL in seconds
//
// Returns "EXISTS" when the record key is already present, "OK" otherwise.
const luaCreateRecord = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'EXISTS'
end
local ttl = tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'data', ARGV[1], ARGV[2], '0')
redis.call('EXPIRE', KEYS[1], ttl)
if KEYS[2] then
    redis.call('SADD', KEYS[2], KEYS[1])
    if redis.call('TTL', KEYS[2]) < ttl then
        redis.call('EXPIRE', KEYS[2], ttl)
    end
end
return 'OK'
`

// luaConsumeRecord atomically sets a record's flag and returns its data.
// Of two concurrent callers exactly one sees the flag unset.
//
// KEYS[1] = record key
// ARGV[1] = flag field ("used" or "revoked")
//
// Returns:
//   - the record data if the flag was unset
//   - "NOT_FOUND" if the key does not exist
//   - "ALREADY_SET:<data>" if the flag was already set
const luaConsumeRecord = `
local flag = redis.call('HGET', KEYS[1], ARGV[1])
if not flag then
    return 'NOT_FOUND'
end
local data = redis.call('HGET', KEYS[1], 'data')
if flag == '1' then
    return 'ALREADY_SET:' .. data
end
redis.call('HSET', KEYS[1], ARGV[1], '1')
return data
`

// luaRevokeFamily sets the revoked flag on every live member of a family set.
//
// KEYS[1] = family key
//
// Returns the number of records that were newly revoked.
const luaRevokeFamily = `
local revoked = 0
for _, key in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    if redis.call('HGET', key, 'revoked') == '0' then
        redis.call('HSET', key, 'revoked', '1')
        revoked = revoked + 1
    end
end
return revoked
`

// luaMarkAssertion records an assertion identifier unless it is present.
//
// KEYS[1] = assertion key
// ARGV[1] = TTL in milliseconds
//
// Returns 1 when recorded, 0 when the identifier was seen before.
const luaMarkAssertion = `
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
    return 1
end
return 0
`

const (
	resultNotFound   = "NOT_FOUND"
	resultExists     = "EXISTS"
	resultAlreadySet = "ALREADY_SET:"
)

// createRecord seals v and stores it under key via luaCreateRecord.
func (s *Store) createRecord(ctx context.Context, key, familyKey, flag string, v any, expiresAt time.Time) error {
	data, err := s.seal(v)
	if err != nil {
		return err
	}

	keys := []string{key}
	if familyKey != "" {
		keys = append(keys, familyKey)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateRecord).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(data, flag, fmt.Sprintf("%d", ttlSeconds(expiresAt))).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	if result == resultExists {
		return fmt.Errorf("record already exists")
	}
	return nil
}

// consumeRecord runs luaConsumeRecord. It returns the record data and whether
// the flag had already been set.
func (s *Store) consumeRecord(ctx context.Context, key, flag string) (data string, alreadySet bool, found bool, err error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRecord).
			Numkeys(1).
			Key(key).
			Arg(flag).
			Build(),
	).ToString()
	if err != nil {
		return "", false, false, fmt.Errorf("failed to execute atomic consume: %w", err)
	}

	switch {
	case result == resultNotFound:
		return "", false, false, nil
	case strings.HasPrefix(result, resultAlreadySet):
		return strings.TrimPrefix(result, resultAlreadySet), true, true, nil
	default:
		return result, false, true, nil
	}
}

// getRecord reads a record hash. found is false when the key does not exist.
func (s *Store) getRecord(ctx context.Context, key, flag string) (data string, flagSet bool, found bool, err error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		if isNilError(err) {
			return "", false, false, nil
		}
		return "", false, false, fmt.Errorf("failed to get record: %w", err)
	}
	data, ok := fields[fieldData]
	if !ok {
		return "", false, false, nil
	}
	return data, fields[flag] == "1", true, nil
}

// ============================================================
// Serialization
// ============================================================

// seal marshals v and encrypts it when an encryptor is configured.
func (s *Store) seal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return string(data), nil
	}
	sealed, err := enc.Seal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt record: %w", err)
	}
	return sealed, nil
}

// open reverses seal.
func (s *Store) open(data string, v any) error {
	raw := []byte(data)
	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		var err error
		raw, err = enc.Open(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt record: %w", err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// clientJSON is the JSON representation of a client
type clientJSON struct {
	ClientID                string   `json:"client_id"`
	ClientSecretHash        string   `json:"client_secret_hash,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	Scopes                  []string `json:"scopes,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	JWKS                    string   `json:"jwks,omitempty"`
	CreatedAt               int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                c.ClientID,
		ClientSecretHash:        c.ClientSecretHash,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		Scopes:                  c.Scopes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		JWKS:                    c.JWKS,
		CreatedAt:               c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientSecretHash:        j.ClientSecretHash,
		ClientName:              j.ClientName,
		RedirectURIs:            j.RedirectURIs,
		Scopes:                  j.Scopes,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		JWKS:                    j.JWKS,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
}

// userJSON is the JSON representation of a user
type userJSON struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

func toUserJSON(u *storage.User) *userJSON {
	return &userJSON{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.Unix(),
	}
}

func fromUserJSON(j *userJSON) *storage.User {
	return &storage.User{
		ID:           j.ID,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	Audience            []string `json:"audience,omitempty"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
	FamilyID            string   `json:"family_id,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		UserID:              c.UserID,
		RedirectURI:         c.RedirectURI,
		Scopes:              c.Scopes,
		Audience:            c.Audience,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		FamilyID:            c.FamilyID,
		CreatedAt:           c.CreatedAt.Unix(),
		ExpiresAt:           c.ExpiresAt.Unix(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON, used bool) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		Audience:            j.Audience,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		FamilyID:            j.FamilyID,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                used,
	}
}

// tokenJSON is the JSON representation of an access or refresh token
type tokenJSON struct {
	ID            string   `json:"id"`
	ClientID      string   `json:"client_id"`
	UserID        string   `json:"user_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	Audience      []string `json:"audience,omitempty"`
	GrantType     string   `json:"grant_type"`
	FamilyID      string   `json:"family_id,omitempty"`
	AccessTokenID string   `json:"access_token_id,omitempty"`
	IssuedAt      int64    `json:"issued_at"`
	ExpiresAt     int64    `json:"expires_at"`
	ValidAfter    int64    `json:"valid_after,omitempty"`
}

func toTokenJSON(t *storage.Token, accessTokenID string) *tokenJSON {
	j := &tokenJSON{
		ID:            t.ID,
		ClientID:      t.ClientID,
		UserID:        t.UserID,
		Scopes:        t.Scopes,
		Audience:      t.Audience,
		GrantType:     t.GrantType,
		FamilyID:      t.FamilyID,
		AccessTokenID: accessTokenID,
		IssuedAt:      t.IssuedAt.Unix(),
		ExpiresAt:     t.ExpiresAt.Unix(),
	}
	if !t.ValidAfter.IsZero() {
		j.ValidAfter = t.ValidAfter.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON, revoked bool) storage.Token {
	t := storage.Token{
		ID:        j.ID,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scopes:    j.Scopes,
		Audience:  j.Audience,
		GrantType: j.GrantType,
		FamilyID:  j.FamilyID,
		IssuedAt:  time.Unix(j.IssuedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
		Revoked:   revoked,
	}
	if j.ValidAfter != 0 {
		t.ValidAfter = time.Unix(j.ValidAfter, 0)
	}
	return t
}

// ============================================================
// Helper methods
// ============================================================

// getJSON fetches a plain JSON value and unmarshals it into v.
// found is false when the key does not exist.
func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get data: %w", err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return true, nil
}

// validateStringLength rejects identifiers that would produce oversized keys
func validateStringLength(value string, maxLen int, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s", errInputTooLarge, fieldName)
	}
	return nil
}

// ttlSeconds returns the whole seconds until expiresAt, at least one
func ttlSeconds(expiresAt time.Time) int64 {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 1
	}
	return int64(math.Ceil(ttl.Seconds()))
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
