package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/oauth2-core/storage"
)

//go:embed schema.sql
var schema string

// Compile-time interface checks
var (
	_ storage.Adapter              = (*Store)(nil)
	_ storage.RefreshTokenStore    = (*Store)(nil)
	_ storage.TokenFamilyRevoker   = (*Store)(nil)
	_ storage.AssertionReplayStore = (*Store)(nil)
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Store implements the storage interfaces over SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens a SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: slog.Default(), now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// DeleteExpired removes expired codes, tokens and assertion identifiers and
// returns how many rows were deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	now := toMillis(s.now())
	var total int64
	for _, query := range []string{
		`DELETE FROM authorization_codes WHERE expires_at <= ?`,
		`DELETE FROM tokens WHERE expires_at <= ?`,
		`DELETE FROM assertions WHERE expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, query, now)
		if err != nil {
			return total, fmt.Errorf("delete expired rows: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete expired rows: %w", err)
		}
		total += n
	}
	if total > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", total)
	}
	return total, nil
}

// MarkAssertionUsed records an assertion identifier until it expires. An
// identifier whose earlier record has expired may be recorded again.
func (s *Store) MarkAssertionUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO assertions (issuer, jti, expires_at) VALUES (?, ?, ?)
ON CONFLICT (issuer, jti) DO UPDATE SET expires_at = excluded.expires_at
WHERE assertions.expires_at <= ?`,
		issuer, jti, toMillis(expiresAt), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("record assertion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record assertion: %w", err)
	}
	if n == 0 {
		return storage.ErrAssertionReplayed
	}
	return nil
}

// rowsAffectedOne reports whether res changed exactly one row.
func rowsAffectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
