package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/memberkit/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/store/migrations"
	_ "modernc.org/sqlite"
)

// rememberedSlot is the fixed key for the durable session row. Using a named
// slot keeps the remembered session distinct from any future row kinds, so
// remembered and process-local state cannot be confused with each other.
const rememberedSlot = "remembered"

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteTier implements the durable cross-process tier over a SQLite file.
//
// WAL mode plus a busy timeout lets multiple client processes share the file;
// concurrent writers resolve last-write-wins, which is the accepted policy
// for simultaneous refreshes.
type SQLiteTier struct {
	sqlDB *sql.DB
}

// OpenSQLiteTier opens (creating if needed) the durable tier at path and
// applies bundled migrations.
func OpenSQLiteTier(path string) (*SQLiteTier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteTier{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite database.
func (s *SQLiteTier) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the remembered session when present.
func (s *SQLiteTier) Get(ctx context.Context) (session.Record, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token, refresh_token, expires_at, user_id, email, display_name, stored_at
FROM session_slot
WHERE slot = ?`, rememberedSlot)

	var (
		rec                 session.Record
		expiresAt, storedAt int64
	)
	err := row.Scan(
		&rec.Token,
		&rec.RefreshToken,
		&expiresAt,
		&rec.User.UserID,
		&rec.User.Email,
		&rec.User.DisplayName,
		&storedAt,
	)
	if err == sql.ErrNoRows {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, fmt.Errorf("read session slot: %w", err)
	}
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.StoredAt = fromMillis(storedAt)
	return rec, true, nil
}

// Put stores the remembered session, replacing any previous one.
func (s *SQLiteTier) Put(ctx context.Context, rec session.Record) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session_slot (slot, token, refresh_token, expires_at, user_id, email, display_name, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (slot) DO UPDATE SET
    token = excluded.token,
    refresh_token = excluded.refresh_token,
    expires_at = excluded.expires_at,
    user_id = excluded.user_id,
    email = excluded.email,
    display_name = excluded.display_name,
    stored_at = excluded.stored_at`,
		rememberedSlot,
		rec.Token,
		rec.RefreshToken,
		toMillis(rec.ExpiresAt),
		rec.User.UserID,
		rec.User.Email,
		rec.User.DisplayName,
		toMillis(rec.StoredAt),
	)
	if err != nil {
		return fmt.Errorf("write session slot: %w", err)
	}
	return nil
}

// Delete removes the remembered session.
func (s *SQLiteTier) Delete(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_slot WHERE slot = ?`, rememberedSlot); err != nil {
		return fmt.Errorf("delete session slot: %w", err)
	}
	return nil
}
