package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/pkg/state"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

// DefaultIdleTimeout evicts in-memory sessions nobody has touched.
const DefaultIdleTimeout = 2 * time.Hour

// Manager hosts one Orchestrator per session for the HTTP API. When a
// snapshot store is configured, every operation writes the session's state
// back so a restarted process can pick it up again.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Orchestrator

	opts      Options
	snapshots storage.SnapshotStore
	ttl       time.Duration
	logger    *slog.Logger
}

// NewManager creates a manager. Every hosted orchestrator is built from
// opts. snapshots may be nil.
func NewManager(opts Options, snapshots storage.SnapshotStore, ttl time.Duration) (*Manager, error) {
	// Validate once up front so Start never fails on configuration.
	if _, err := New(opts); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[uuid.UUID]*Orchestrator),
		opts:      opts,
		snapshots: snapshots,
		ttl:       ttl,
		logger:    logger,
	}, nil
}

// Start opens a new session and returns its orchestrator along with the
// prologue events.
func (m *Manager) Start(ctx context.Context, playerName string) (*Orchestrator, []state.Event, error) {
	o, err := New(m.opts)
	if err != nil {
		return nil, nil, err
	}
	events, err := o.StartSession(ctx, playerName)
	if err != nil {
		return nil, nil, err
	}
	id := o.Session().ID

	m.mu.Lock()
	m.sessions[id] = o
	m.mu.Unlock()

	m.save(ctx, o)
	return o, events, nil
}

// Get returns the orchestrator for id, rehydrating it from the snapshot
// store when it is not in memory.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Orchestrator, error) {
	m.mu.Lock()
	o, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return o, nil
	}
	if m.snapshots == nil {
		return nil, ErrSessionNotFound
	}

	snap, err := m.snapshots.LoadSnapshot(ctx, id)
	if err != nil {
		m.logFailure("load_snapshot", id, err)
		return nil, ErrSessionNotFound
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}

	o, err = New(m.opts)
	if err != nil {
		return nil, err
	}
	if err := o.Restore(snap); err != nil {
		m.logger.Warn("Discarding unusable snapshot", "session_id", id, "error", err)
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have restored it first.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = o
	m.logger.Info("Session restored from snapshot", "session_id", id, "phase", snap.Phase)
	return o, nil
}

// Submit forwards input to the session and saves its state afterwards,
// including after a rejected roll or a failed model call.
func (m *Manager) Submit(ctx context.Context, id uuid.UUID, input string) (*Orchestrator, []state.Event, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := o.Submit(ctx, input)
	if !errors.Is(err, ErrTurnInProgress) {
		m.save(ctx, o)
	}
	return o, events, err
}

// SignGuestbook signs on behalf of an ended session.
func (m *Manager) SignGuestbook(ctx context.Context, id uuid.UUID, nickname, contact, message string) (*storage.GuestbookEntry, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.SignGuestbook(ctx, nickname, contact, message)
}

// Guestbook lists entries without needing a session.
func (m *Manager) Guestbook(ctx context.Context, limit int) ([]storage.GuestbookEntry, error) {
	gateway := m.opts.Gateway
	if gateway == nil {
		gateway = storage.Disabled{}
	}
	entries, err := gateway.LoadGuestbookEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GoHome abandons the session and forgets it.
func (m *Manager) GoHome(ctx context.Context, id uuid.UUID) error {
	o, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := o.GoHome(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.snapshots != nil {
		if err := m.snapshots.DeleteSnapshot(ctx, id); err != nil {
			m.logFailure("delete_snapshot", id, err)
		}
	}
	return nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops in-memory sessions idle for longer than the TTL. A session
// with an operation in flight is never idle. Snapshots stay in the store
// until they expire on their own.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, o := range m.sessions {
		if o.Busy() {
			continue
		}
		if now.Sub(o.UpdatedAt()) > m.ttl {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("Evicted idle sessions", "count", evicted, "remaining", len(m.sessions))
	}
	return evicted
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *Manager) save(ctx context.Context, o *Orchestrator) {
	if m.snapshots == nil {
		return
	}
	snap := o.Snapshot()
	if snap.Session == nil {
		return
	}
	if err := m.snapshots.SaveSnapshot(ctx, snap, m.ttl); err != nil {
		m.logFailure("save_snapshot", snap.Session.ID, err)
	}
}

func (m *Manager) logFailure(op string, id uuid.UUID, err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		m.logger.Debug("Snapshot store unavailable", "op", op, "session_id", id)
		return
	}
	logger.WithError(m.logger, err).Warn("Snapshot operation failed", "op", op, "session_id", id)
}
