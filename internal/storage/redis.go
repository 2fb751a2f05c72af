package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "trpg:"

// RedisStorage implements storage.Store on Redis.
//
// Key layout, under a configurable prefix:
//
//	session:<id>       hash of player name, timestamps, outcome and counters
//	session:<id>:logs  list of JSON log entries, oldest first
//	guestbook          sorted set of JSON entries scored by creation time
//	snapshot:<id>      JSON orchestrator snapshot with a TTL
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// Ensure RedisStorage implements Store interface
var _ storage.Store = (*RedisStorage)(nil)

type RedisOption func(*RedisStorage)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStorage) {
		r.prefix = prefix
	}
}

// NewRedisStorage connects to redisURL, which is either a host:port address
// or a redis:// URL carrying credentials and a database number.
func NewRedisStorage(redisURL string, logger *slog.Logger, opts ...RedisOption) (*RedisStorage, error) {
	var options *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		options = parsed
	} else {
		options = &redis.Options{Addr: redisURL}
	}
	return NewRedisStorageFromClient(redis.NewClient(options), logger, opts...), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, logger *slog.Logger, opts ...RedisOption) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisStorage{
		client: client,
		logger: logger,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStorage) sessionKey(id uuid.UUID) string  { return r.prefix + "session:" + id.String() }
func (r *RedisStorage) logsKey(id uuid.UUID) string     { return r.sessionKey(id) + ":logs" }
func (r *RedisStorage) snapshotKey(id uuid.UUID) string { return r.prefix + "snapshot:" + id.String() }
func (r *RedisStorage) guestbookKey() string            { return r.prefix + "guestbook" }

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Gateway operations

func (r *RedisStorage) CreateSession(ctx context.Context, playerName string) (uuid.UUID, error) {
	id := uuid.New()
	err := r.client.HSet(ctx, r.sessionKey(id), map[string]any{
		"player_name": playerName,
		"created_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		r.logger.Error("Failed to create session", "error", err)
		return uuid.Nil, unavailable("create session", err)
	}
	return id, nil
}

func (r *RedisStorage) requireSession(ctx context.Context, id uuid.UUID) error {
	n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return unavailable("look up session", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s not found", storage.ErrUnavailable, id)
	}
	return nil
}

func (r *RedisStorage) AppendLog(ctx context.Context, sessionID uuid.UUID, role, content string) error {
	if err := r.requireSession(ctx, sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(storage.LogEntry{Role: role, Content: content, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if err := r.client.RPush(ctx, r.logsKey(sessionID), data).Err(); err != nil {
		r.logger.Error("Failed to append log", "session_id", sessionID, "error", err)
		return unavailable("append log", err)
	}
	return nil
}

func (r *RedisStorage) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome alignment.Label, scores alignment.Scores) error {
	if err := r.requireSession(ctx, sessionID); err != nil {
		return err
	}
	err := r.client.HSet(ctx, r.sessionKey(sessionID), map[string]any{
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
		"outcome":      string(outcome),
		"lawful":       scores.Lawful,
		"chaotic":      scores.Chaotic,
		"good":         scores.Good,
		"evil":         scores.Evil,
	}).Err()
	if err != nil {
		r.logger.Error("Failed to complete session", "session_id", sessionID, "error", err)
		return unavailable("complete session", err)
	}
	return nil
}

// SessionRecord is the stored summary of one playthrough.
type SessionRecord struct {
	ID          uuid.UUID
	PlayerName  string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Outcome     alignment.Label
	Scores      alignment.Scores
}

// LoadSession returns the stored record for id, or nil when unknown.
func (r *RedisStorage) LoadSession(ctx context.Context, id uuid.UUID) (*SessionRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &SessionRecord{
		ID:         id,
		PlayerName: fields["player_name"],
		Outcome:    alignment.Label(fields["outcome"]),
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	if v, ok := fields["completed_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CompletedAt = &t
		}
	}
	rec.Scores.Lawful, _ = strconv.Atoi(fields["lawful"])
	rec.Scores.Chaotic, _ = strconv.Atoi(fields["chaotic"])
	rec.Scores.Good, _ = strconv.Atoi(fields["good"])
	rec.Scores.Evil, _ = strconv.Atoi(fields["evil"])
	return rec, nil
}

func (r *RedisStorage) LoadLogs(ctx context.Context, sessionID uuid.UUID) ([]storage.LogEntry, error) {
	raw, err := r.client.LRange(ctx, r.logsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("load logs", err)
	}
	logs := make([]storage.LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry storage.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			r.logger.Warn("Skipping unreadable log entry", "session_id", sessionID, "error", err)
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (r *RedisStorage) SaveGuestbookEntry(ctx context.Context, entry storage.GuestbookEntry) (*storage.GuestbookEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal guestbook entry: %w", err)
	}
	err = r.client.ZAdd(ctx, r.guestbookKey(), redis.Z{
		Score:  float64(entry.CreatedAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		r.logger.Error("Failed to save guestbook entry", "error", err)
		return nil, unavailable("save guestbook entry", err)
	}
	return &entry, nil
}

func (r *RedisStorage) LoadGuestbookEntries(ctx context.Context, limit int) ([]storage.GuestbookEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultGuestbookLimit
	}
	raw, err := r.client.ZRevRange(ctx, r.guestbookKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable("load guestbook", err)
	}
	entries := make([]storage.GuestbookEntry, 0, len(raw))
	for _, item := range raw {
		var entry storage.GuestbookEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			r.logger.Warn("Skipping unreadable guestbook entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Snapshot operations

func (r *RedisStorage) SaveSnapshot(ctx context.Context, snap *state.Snapshot, ttl time.Duration) error {
	if snap == nil || snap.Session == nil {
		return errors.New("snapshot must carry a session")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		r.logger.Error("Failed to marshal snapshot", "session_id", snap.Session.ID, "error", err)
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.snapshotKey(snap.Session.ID), data, ttl).Err(); err != nil {
		r.logger.Error("Failed to save snapshot", "session_id", snap.Session.ID, "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *RedisStorage) LoadSnapshot(ctx context.Context, id uuid.UUID) (*state.Snapshot, error) {
	data, err := r.client.Get(ctx, r.snapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Return nil for not found
		}
		r.logger.Error("Failed to load snapshot", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Error("Failed to unmarshal snapshot", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisStorage) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, r.snapshotKey(id)).Err(); err != nil {
		r.logger.Error("Failed to delete snapshot", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
