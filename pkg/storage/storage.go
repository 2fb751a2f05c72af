package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/state"
)

// ErrUnavailable is returned by every gateway operation that fails. Disabled
// returns it bare; backends wrap it around the underlying error. Callers log
// and go on.
var ErrUnavailable = errors.New("storage unavailable")

// DefaultGuestbookLimit is the page size for guestbook listings.
const DefaultGuestbookLimit = 20

// GuestbookEntry is one message left after a playthrough.
type GuestbookEntry struct {
	ID        uuid.UUID       `json:"id"`
	SessionID *uuid.UUID      `json:"session_id,omitempty"`
	Nickname  string          `json:"nickname"`
	Message   string          `json:"message"`
	Contact   string          `json:"contact,omitempty"`
	Alignment alignment.Label `json:"alignment"`
	CreatedAt time.Time       `json:"created_at"`
}

// LogEntry is one persisted transcript line.
type LogEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is the set of best-effort writes and reads a session needs from a
// durable store. Gameplay never depends on these succeeding.
type Gateway interface {
	CreateSession(ctx context.Context, playerName string) (uuid.UUID, error)
	AppendLog(ctx context.Context, sessionID uuid.UUID, role, content string) error
	CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome alignment.Label, scores alignment.Scores) error
	SaveGuestbookEntry(ctx context.Context, entry GuestbookEntry) (*GuestbookEntry, error)
	// LoadGuestbookEntries returns the newest entries first.
	LoadGuestbookEntries(ctx context.Context, limit int) ([]GuestbookEntry, error)
}

// SnapshotStore keeps live orchestrator state so sessions survive restarts.
// LoadSnapshot returns nil, nil when the id is unknown or expired.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *state.Snapshot, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, id uuid.UUID) (*state.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id uuid.UUID) error
}

// Store defines a unified interface for all storage operations.
type Store interface {
	Gateway
	SnapshotStore

	// LoadLogs returns a session transcript, oldest first.
	LoadLogs(ctx context.Context, sessionID uuid.UUID) ([]LogEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
