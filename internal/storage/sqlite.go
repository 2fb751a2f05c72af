package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements storage.Store on a local SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS game_sessions (
		id TEXT PRIMARY KEY,
		player_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		outcome TEXT,
		lawful INTEGER NOT NULL DEFAULT 0,
		chaotic INTEGER NOT NULL DEFAULT 0,
		good INTEGER NOT NULL DEFAULT 0,
		evil INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conversation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES game_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_logs_session ON conversation_logs(session_id, id);

	CREATE TABLE IF NOT EXISTS guestbook (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		nickname TEXT NOT NULL,
		message TEXT NOT NULL,
		contact TEXT,
		alignment TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_guestbook_created ON guestbook(created_at);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at INTEGER
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) CreateSession(ctx context.Context, playerName string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO game_sessions (id, player_name, created_at) VALUES (?, ?, ?)`,
		id.String(), playerName, s.now().UnixMilli())
	if err != nil {
		s.logger.Error("Failed to create session", "error", err)
		return uuid.Nil, unavailable("create session", err)
	}
	return id, nil
}

func (s *SQLiteStorage) AppendLog(ctx context.Context, sessionID uuid.UUID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_logs (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID.String(), role, content, s.now().UnixMilli())
	if err != nil {
		return unavailable("append log", err)
	}
	return nil
}

func (s *SQLiteStorage) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome alignment.Label, scores alignment.Scores) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE game_sessions
		SET completed_at = ?, outcome = ?, lawful = ?, chaotic = ?, good = ?, evil = ?
		WHERE id = ?`,
		s.now().UnixMilli(), string(outcome), scores.Lawful, scores.Chaotic, scores.Good, scores.Evil, sessionID.String())
	if err != nil {
		return unavailable("complete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("complete session", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s not found", storage.ErrUnavailable, sessionID)
	}
	return nil
}

func (s *SQLiteStorage) LoadLogs(ctx context.Context, sessionID uuid.UUID) ([]storage.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_logs WHERE session_id = ? ORDER BY id`,
		sessionID.String())
	if err != nil {
		return nil, unavailable("load logs", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []storage.LogEntry
	for rows.Next() {
		var entry storage.LogEntry
		var createdAt int64
		if err := rows.Scan(&entry.Role, &entry.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *SQLiteStorage) SaveGuestbookEntry(ctx context.Context, entry storage.GuestbookEntry) (*storage.GuestbookEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	var sessionID, contact any
	if entry.SessionID != nil {
		sessionID = entry.SessionID.String()
	}
	if entry.Contact != "" {
		contact = entry.Contact
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guestbook (id, session_id, nickname, message, contact, alignment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), sessionID, entry.Nickname, entry.Message, contact, string(entry.Alignment), entry.CreatedAt.UnixMilli())
	if err != nil {
		s.logger.Error("Failed to save guestbook entry", "error", err)
		return nil, unavailable("save guestbook entry", err)
	}
	return &entry, nil
}

func (s *SQLiteStorage) LoadGuestbookEntries(ctx context.Context, limit int) ([]storage.GuestbookEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultGuestbookLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, nickname, message, contact, alignment, created_at
		FROM guestbook ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("load guestbook", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]storage.GuestbookEntry, 0, limit)
	for rows.Next() {
		var (
			entry              storage.GuestbookEntry
			id, label          string
			sessionID, contact sql.NullString
			createdAt          int64
		)
		if err := rows.Scan(&id, &sessionID, &entry.Nickname, &entry.Message, &contact, &label, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan guestbook row: %w", err)
		}
		entry.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid guestbook id %q: %w", id, err)
		}
		if sessionID.Valid {
			if sid, err := uuid.Parse(sessionID.String); err == nil {
				entry.SessionID = &sid
			}
		}
		entry.Contact = contact.String
		entry.Alignment = alignment.Label(label)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap *state.Snapshot, ttl time.Duration) error {
	if snap == nil || snap.Session == nil {
		return errors.New("snapshot must carry a session")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		snap.Session.ID.String(), string(data), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot treats an expired row as missing and removes it.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context, id uuid.UUID) (*state.Snapshot, error) {
	var data string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM session_snapshots WHERE session_id = ?`, id.String()).
		Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if expiresAt.Valid && s.now().UnixMilli() >= expiresAt.Int64 {
		if err := s.DeleteSnapshot(ctx, id); err != nil {
			s.logger.Warn("Failed to delete expired snapshot", "session_id", id, "error", err)
		}
		return nil, nil
	}

	var snap state.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStorage) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
