package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/state"
)

// Operation names recorded by MockStorage.
const (
	OpCreateSession   = "create_session"
	OpAppendLog       = "append_log"
	OpCompleteSession = "complete_session"
	OpSaveGuestbook   = "save_guestbook"
	OpLoadGuestbook   = "load_guestbook"
	OpLoadLogs        = "load_logs"
	OpSaveSnapshot    = "save_snapshot"
	OpLoadSnapshot    = "load_snapshot"
	OpDeleteSnapshot  = "delete_snapshot"
)

// MockSession is what MockStorage keeps per created session.
type MockSession struct {
	PlayerName  string
	Outcome     alignment.Label
	Scores      alignment.Scores
	CompletedAt *time.Time
	Logs        []LogEntry
}

// MockStorage is an in-memory Store for tests and local play.
type MockStorage struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*MockSession
	guestbook []GuestbookEntry
	snapshots map[uuid.UUID][]byte
	failures  map[string]error
	pingError error
	calls     []string
}

// Ensure MockStorage implements Store interface
var _ Store = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		sessions:  make(map[uuid.UUID]*MockSession),
		snapshots: make(map[uuid.UUID][]byte),
		failures:  make(map[string]error),
	}
}

// SetFailure makes op fail with err until cleared with a nil err.
func (m *MockStorage) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// Calls returns the operations invoked so far, in order.
func (m *MockStorage) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Session returns a copy of what was recorded for id.
func (m *MockStorage) Session(id uuid.UUID) (MockSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return MockSession{}, false
	}
	cp := *s
	cp.Logs = append([]LogEntry(nil), s.Logs...)
	return cp, true
}

// record must be called with the lock held.
func (m *MockStorage) record(op string) error {
	m.calls = append(m.calls, op)
	return m.failures[op]
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) CreateSession(ctx context.Context, playerName string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCreateSession); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	m.sessions[id] = &MockSession{PlayerName: playerName}
	return id, nil
}

func (m *MockStorage) AppendLog(ctx context.Context, sessionID uuid.UUID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpAppendLog); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.Logs = append(s.Logs, LogEntry{Role: role, Content: content, CreatedAt: time.Now()})
	return nil
}

func (m *MockStorage) CompleteSession(ctx context.Context, sessionID uuid.UUID, outcome alignment.Label, scores alignment.Scores) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCompleteSession); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	now := time.Now()
	s.Outcome = outcome
	s.Scores = scores
	s.CompletedAt = &now
	return nil
}

func (m *MockStorage) SaveGuestbookEntry(ctx context.Context, entry GuestbookEntry) (*GuestbookEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpSaveGuestbook); err != nil {
		return nil, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.guestbook = append(m.guestbook, entry)
	return &entry, nil
}

func (m *MockStorage) LoadGuestbookEntries(ctx context.Context, limit int) ([]GuestbookEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpLoadGuestbook); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultGuestbookLimit
	}
	// Reverse insertion order first so equal timestamps list the later write first.
	out := make([]GuestbookEntry, 0, len(m.guestbook))
	for i := len(m.guestbook) - 1; i >= 0; i-- {
		out = append(out, m.guestbook[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) LoadLogs(ctx context.Context, sessionID uuid.UUID) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpLoadLogs); err != nil {
		return nil, err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]LogEntry(nil), s.Logs...), nil
}

// SaveSnapshot stores an encoded copy so later mutations of snap are not
// visible through LoadSnapshot. The ttl is ignored.
func (m *MockStorage) SaveSnapshot(ctx context.Context, snap *state.Snapshot, ttl time.Duration) error {
	if snap == nil || snap.Session == nil {
		return errors.New("snapshot must carry a session")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpSaveSnapshot); err != nil {
		return err
	}
	m.snapshots[snap.Session.ID] = data
	return nil
}

func (m *MockStorage) LoadSnapshot(ctx context.Context, id uuid.UUID) (*state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpLoadSnapshot); err != nil {
		return nil, err
	}
	data, ok := m.snapshots[id]
	if !ok {
		return nil, nil
	}
	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (m *MockStorage) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpDeleteSnapshot); err != nil {
		return err
	}
	delete(m.snapshots, id)
	return nil
}
