// Package sqlite stores settings that the user tweaks at runtime and expects
// back after a restart: scalar overrides and the alias substitution map.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(dbPath string) (*SettingsStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SettingsStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const settingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(settingsTable); err != nil {
		return fmt.Errorf("sqlite: migrate settings: %w", err)
	}

	const aliasesTable = `
CREATE TABLE IF NOT EXISTS aliases (
	spoken TEXT PRIMARY KEY,
	replacement TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(aliasesTable); err != nil {
		return fmt.Errorf("sqlite: migrate aliases: %w", err)
	}

	const notificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	username TEXT,
	text TEXT NOT NULL,
	gift_name TEXT,
	gift_num INTEGER,
	merged INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC);`

	if _, err := db.Exec(notificationsTable); err != nil {
		return fmt.Errorf("sqlite: migrate notifications: %w", err)
	}

	return nil
}

func (s *SettingsStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SettingsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM settings WHERE key = ? LIMIT 1;`

	var value sql.NullString
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlite: get setting: %w", err)
	}
	return value.String, true, nil
}

func (s *SettingsStore) SetSetting(ctx context.Context, key, value string) error {
	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: set setting: %w", err)
	}
	return nil
}

func (s *SettingsStore) ListAliases(ctx context.Context) (map[string]string, error) {
	const query = `SELECT spoken, replacement FROM aliases;`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list aliases: %w", err)
	}
	defer rows.Close()

	aliases := map[string]string{}
	for rows.Next() {
		var spoken, replacement string
		if err := rows.Scan(&spoken, &replacement); err != nil {
			return nil, fmt.Errorf("sqlite: scan alias: %w", err)
		}
		aliases[spoken] = replacement
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list aliases: %w", err)
	}
	return aliases, nil
}

func (s *SettingsStore) SetAlias(ctx context.Context, from, to string) error {
	if from == "" {
		return fmt.Errorf("sqlite: empty alias key")
	}

	const stmt = `
INSERT INTO aliases (spoken, replacement, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(spoken) DO UPDATE SET
	replacement=excluded.replacement,
	updated_at=excluded.updated_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, from, to, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: set alias: %w", err)
	}
	return nil
}

func (s *SettingsStore) DeleteAlias(ctx context.Context, from string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM aliases WHERE spoken = ?;`, from); err != nil {
		return fmt.Errorf("sqlite: delete alias: %w", err)
	}
	return nil
}

// NotificationRecord is one persisted announcement, kept so a frontend can
// show history after a restart.
type NotificationRecord struct {
	ID        int64
	Type      string
	Username  string
	Text      string
	GiftName  string
	GiftNum   int
	Merged    bool
	CreatedAt time.Time
}

func (s *SettingsStore) SaveNotification(ctx context.Context, rec NotificationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const stmt = `
INSERT INTO notifications (type, username, text, gift_name, gift_num, merged, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`

	_, err := s.db.ExecContext(ctx, stmt,
		rec.Type, rec.Username, rec.Text, rec.GiftName, rec.GiftNum, rec.Merged, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save notification: %w", err)
	}
	return nil
}

// RecentNotifications returns up to limit records, newest first.
func (s *SettingsStore) RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
SELECT id, type, username, text, gift_name, gift_num, merged, created_at
FROM notifications
ORDER BY id DESC
LIMIT ?;
`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent notifications: %w", err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var username, giftName sql.NullString
		var giftNum sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Type, &username, &rec.Text, &giftName, &giftNum, &rec.Merged, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan notification: %w", err)
		}
		rec.Username = username.String
		rec.GiftName = giftName.String
		rec.GiftNum = int(giftNum.Int64)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent notifications: %w", err)
	}
	return records, nil
}
